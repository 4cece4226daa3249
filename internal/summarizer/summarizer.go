// Package summarizer calls the external service that condenses a slice of
// chat text into a summary.
//
// A summary is a JSON object whose "answer" field holds the summary text; any
// other fields the service echoes are kept and persisted alongside it.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single summarization call.
const DefaultTimeout = 30 * time.Second

// ErrSummarizationFailed is wrapped by every error a Summarizer returns:
// transport failures, timeouts, non-success statuses and malformed bodies.
var ErrSummarizationFailed = errors.New("summarizer: summarization failed")

// Summary is the decoded response of a summarization call.
type Summary map[string]any

// Answer returns the summary text.
func (s Summary) Answer() string {
	answer, _ := s["answer"].(string)
	return answer
}

// Summarizer condenses text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (Summary, error)
}

// HTTP posts {"text": ...} to a summarization service and decodes its JSON
// reply.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP returns a client for the service at url. A non-positive timeout
// selects DefaultTimeout.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}
}

type request struct {
	Text string `json:"text"`
}

func (h *HTTP) Summarize(ctx context.Context, text string) (Summary, error) {
	body, err := json.Marshal(request{Text: text})
	if err != nil {
		return nil, failed(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, failed(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, failed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, failed(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	var summary Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, failed(fmt.Errorf("decode response: %w", err))
	}
	if _, ok := summary["answer"].(string); !ok {
		return nil, failed(errors.New("response has no string answer"))
	}
	return summary, nil
}

func failed(err error) error {
	return fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
}
