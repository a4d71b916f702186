package schema

import "time"

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ConfidenceRating is the verification stage's classification of its own
// findings. When the verifier's output carries no recognizable rating the
// job defaults to ConfidenceHigh.
type ConfidenceRating string

const (
	ConfidenceHigh   ConfidenceRating = "HIGH"
	ConfidenceMedium ConfidenceRating = "MEDIUM"
	ConfidenceLow    ConfidenceRating = "LOW"
)

// Pipeline stage names, in execution order.
const (
	StageMarketResearch    = "market_research"
	StageFinancialAnalysis = "financial_analysis"
	StageVerification      = "verification"
)

// StageOrder lists the fixed pipeline stages in the order they run.
var StageOrder = []string{StageMarketResearch, StageFinancialAnalysis, StageVerification}

// Job is the persistent record of one submitted analysis request. The result
// store is the single source of truth; queue messages only point at it.
type Job struct {
	ID               string            `json:"job_id"`
	UserID           string            `json:"user_id,omitempty"`
	DocumentRef      string            `json:"document_ref"`
	DocumentName     string            `json:"document_name,omitempty"`
	Query            string            `json:"query"`
	Status           JobStatus         `json:"status"`
	StageOutputs     map[string]string `json:"stage_outputs,omitempty"`
	ConfidenceRating ConfidenceRating  `json:"confidence_rating,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	// ProcessingDurationMs is wall-clock time from the first processing
	// transition to the terminal transition.
	ProcessingDurationMs int64 `json:"processing_duration_ms,omitempty"`
}

// TaskQueued is the queue message. It carries only a pointer to the job
// record plus the delivery attempt, so it stays replayable and can always be
// reconstructed from the store.
type TaskQueued struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
}
