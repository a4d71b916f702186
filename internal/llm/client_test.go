package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/umar7shaikh/financial-document-analyzer/internal/config"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "test-model",
		Temperature: 0.2,
		MaxTokens:   100,
		Timeout:     5 * time.Second,
	}
}

func TestCompleteReturnsAssistantText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		var body struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model != "test-model" {
			t.Errorf("unexpected request body (model=%q, err=%v)", body.Model, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  BUY with HIGH confidence  "}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	out, err := c.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "BUY with HIGH confidence" {
		t.Fatalf("unexpected completion: %q", out)
	}
}

func TestCompleteNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestCompleteTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Promise more bytes than are sent so the client's read fails.
		w.Header().Set("Content-Length", "512")
		_, _ = w.Write([]byte(`{"choices":`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("expected error for truncated response body")
	}
	if !strings.Contains(err.Error(), "read response") {
		t.Fatalf("truncated body not reported as a read failure: %v", err)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
