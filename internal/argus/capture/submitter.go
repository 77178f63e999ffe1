package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// Candidate is one violation the loop wants the ledger to record.
type Candidate struct {
	ExamID         string
	Kind           string
	Evidence       string
	DetectedAt     time.Time
	IdempotencyKey string
}

type Submitter interface {
	Submit(ctx context.Context, c Candidate) error
}

const (
	DefaultMaxAttempts = 4
	DefaultRetryDelay  = 500 * time.Millisecond
)

// HTTPSubmitter posts candidates to the ledger's violations endpoint. Every
// attempt carries the same Idempotency-Key, so retries never double count.
type HTTPSubmitter struct {
	BaseURL     string
	Token       string
	Client      *http.Client
	MaxAttempts int
	RetryDelay  time.Duration
}

func NewHTTPSubmitter(baseURL, token string) *HTTPSubmitter {
	return &HTTPSubmitter{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Token:       token,
		Client:      &http.Client{Timeout: 15 * time.Second},
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
	}
}

// retryable marks failures worth another attempt.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Submit retries transport errors, 429 and 5xx answers with a doubling
// delay. Any other 4xx answer is final.
func (s *HTTPSubmitter) Submit(ctx context.Context, c Candidate) error {
	body, err := json.Marshal(types.ViolationRequest{
		Kind:       c.Kind,
		Evidence:   c.Evidence,
		ReportedAt: c.DetectedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("Submit: %w", err)
	}

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := s.RetryDelay

	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("Submit: %w (last error: %v)", ctx.Err(), last)
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := s.post(ctx, c, body)
		if err == nil {
			return nil
		}
		last = err
		if _, ok := err.(retryable); !ok {
			return err
		}
	}
	return fmt.Errorf("Submit: giving up after %d attempts: %w", attempts, last)
}

func (s *HTTPSubmitter) post(ctx context.Context, c Candidate, body []byte) error {
	endpoint := s.BaseURL + "/exam/" + url.PathEscape(c.ExamID) + "/violations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("Submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)
	if c.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", c.IdempotencyKey)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("Submit: %w", ctx.Err())
		}
		return retryable{fmt.Errorf("Submit: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return retryable{fmt.Errorf("Submit: status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("Submit: status %d", resp.StatusCode)
	}
}
