// Package api is the ingress surface: it accepts analysis submissions,
// creates the job record, enqueues a pointer to it, and serves status and
// health queries. Submission never blocks on pipeline execution, and it is
// the only mutating entry point besides the worker.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/umar7shaikh/financial-document-analyzer/internal/docstore"
	"github.com/umar7shaikh/financial-document-analyzer/internal/queue"
	"github.com/umar7shaikh/financial-document-analyzer/internal/store"
	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

type API struct {
	store     store.Store
	queue     queue.Queue
	docs      *docstore.Store
	maxUpload int64
	log       *slog.Logger
}

func New(st store.Store, q queue.Queue, docs *docstore.Store, maxUpload int64, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: st, queue: q, docs: docs, maxUpload: maxUpload, log: logger}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", a.handleRoot)
	r.Post("/analyze", a.handleAnalyze)
	r.Get("/status/{jobID}", a.handleStatus)
	r.Get("/health", a.handleHealth)
	return r
}

type submitResponse struct {
	JobID         string `json:"job_id"`
	FileProcessed string `json:"file_processed"`
	Status        string `json:"status"`
	CheckStatus   string `json:"check_status"`
}

type healthResponse struct {
	QueueReachable bool `json:"queue_reachable"`
	StoreReachable bool `json:"store_reachable"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"service":  "financial-document-analyzer",
		"pipeline": schema.StageOrder,
		"endpoints": []string{
			"POST /analyze", "GET /status/{job_id}", "GET /health",
		},
	})
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		a.renderError(w, r, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		a.renderError(w, r, http.StatusBadRequest, "document file is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		a.renderError(w, r, http.StatusBadRequest, "only PDF documents are supported")
		return
	}
	if header.Size == 0 {
		a.renderError(w, r, http.StatusBadRequest, "document file is empty")
		return
	}
	query := strings.TrimSpace(r.FormValue("query"))
	if query == "" {
		a.renderError(w, r, http.StatusBadRequest, "query is required")
		return
	}

	jobID := uuid.New().String()
	ref, err := a.docs.Save(jobID, header.Filename, file)
	if err != nil {
		a.log.Error("store document failed", "job_id", jobID, "error", err)
		a.renderError(w, r, http.StatusServiceUnavailable, "document storage unavailable")
		return
	}

	job := &schema.Job{
		ID:           jobID,
		UserID:       r.FormValue("user_id"),
		DocumentRef:  ref,
		DocumentName: header.Filename,
		Query:        query,
		Status:       schema.StatusPending,
	}
	if err := a.store.CreateJob(r.Context(), job); err != nil {
		a.log.Error("create job failed", "job_id", jobID, "error", err)
		_ = a.docs.Remove(ref)
		a.renderError(w, r, http.StatusServiceUnavailable, "result store unavailable")
		return
	}

	if err := a.queue.Enqueue(r.Context(), schema.TaskQueued{JobID: jobID, Attempt: 1}); err != nil {
		a.log.Error("enqueue failed", "job_id", jobID, "error", err)
		// Never tell the caller "queued" when it was not; fail the job so
		// status queries are unambiguous.
		if mErr := a.store.MarkFailed(r.Context(), jobID, "submission could not be queued: broker unavailable"); mErr != nil {
			a.log.Error("mark failed after enqueue error", "job_id", jobID, "error", mErr)
		}
		_ = a.docs.Remove(ref)
		a.renderError(w, r, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	if err := a.store.ConditionalTransition(r.Context(), jobID, schema.StatusPending, schema.StatusQueued); err != nil {
		// The message is already out; the job will surface as pending
		// until the claim settles. Report the submission as accepted.
		a.log.Error("pending->queued transition failed", "job_id", jobID, "error", err)
	}

	a.log.Info("job submitted", "job_id", jobID, "document", header.Filename, "query_len", len(query))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, submitResponse{
		JobID:         jobID,
		FileProcessed: header.Filename,
		Status:        string(schema.StatusQueued),
		CheckStatus:   "/status/" + jobID,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := a.store.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		a.renderError(w, r, http.StatusNotFound, "unknown job id")
		return
	}
	if err != nil {
		a.log.Error("status lookup failed", "job_id", jobID, "error", err)
		a.renderError(w, r, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	render.JSON(w, r, job)
}

// handleHealth reports reachability of the two external dependencies. It
// always answers 200; degradation lives in the body.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		QueueReachable: a.queue.Ping(ctx) == nil,
		StoreReachable: a.store.Ping(ctx) == nil,
	}
	if !resp.QueueReachable || !resp.StoreReachable {
		a.log.Warn("health degraded", "queue", resp.QueueReachable, "store", resp.StoreReachable)
	}
	render.JSON(w, r, resp)
}

func (a *API) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}
