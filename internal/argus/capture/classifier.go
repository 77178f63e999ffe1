package capture

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

// ErrClassifierUnavailable means no verdict could be produced. The loop
// treats it as a face being present.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Classifier returns the confidence, in [0,1], that a face is present in f.
type Classifier interface {
	Classify(ctx context.Context, f Frame) (float64, error)
}

// UnavailableClassifier stands in when no model is configured.
type UnavailableClassifier struct{}

func (UnavailableClassifier) Classify(context.Context, Frame) (float64, error) {
	return 0, ErrClassifierUnavailable
}

// HTTPClassifier posts each frame to an inference endpoint that answers
// {"confidence": <float>}.
type HTTPClassifier struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPClassifier(endpoint string) *HTTPClassifier {
	return &HTTPClassifier{Endpoint: endpoint, Client: &http.Client{Timeout: 10 * time.Second}}
}

type classifyResponse struct {
	Confidence *float64 `json:"confidence"`
}

// Classify reports transport failures and 5xx/404 answers as
// ErrClassifierUnavailable.
func (c *HTTPClassifier) Classify(ctx context.Context, f Frame) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(f.Data))
	if err != nil {
		return 0, fmt.Errorf("Classify: %w", err)
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	req.Header.Set("Content-Type", ct)

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		return 0, fmt.Errorf("%w: status %d", ErrClassifierUnavailable, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("Classify: status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return 0, fmt.Errorf("Classify: decode: %w", err)
	}
	if out.Confidence == nil {
		return 0, fmt.Errorf("Classify: response has no confidence")
	}
	conf := *out.Confidence
	if conf < 0 || conf > 1 {
		return 0, fmt.Errorf("Classify: confidence %v out of range", conf)
	}
	return conf, nil
}
