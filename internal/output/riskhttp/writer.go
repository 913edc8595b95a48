package riskhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"netrisk/pkg/models"
)

// Writer sends risk assessments to a remote HTTP endpoint, typically the
// remediation planner.
type Writer struct {
	url      string
	headers  map[string]string
	client   *http.Client
	maxBatch int
}

// Config configures the HTTP writer.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
	// MaxBatch caps assessments per request; zero sends everything at once.
	MaxBatch int
}

// NewWriter creates an HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http risk URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{
		url:      cfg.URL,
		headers:  cfg.Headers,
		client:   &http.Client{Timeout: timeout},
		maxBatch: cfg.MaxBatch,
	}, nil
}

// Write posts assessments as JSON arrays.
func (w *Writer) Write(assessments []models.RiskAssessment) error {
	for len(assessments) > 0 {
		n := len(assessments)
		if w.maxBatch > 0 && n > w.maxBatch {
			n = w.maxBatch
		}
		if err := w.post(assessments[:n]); err != nil {
			return err
		}
		assessments = assessments[n:]
	}
	return nil
}

func (w *Writer) post(batch []models.RiskAssessment) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal assessments: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http request failed with status %s", resp.Status)
	}
	return nil
}

// Close releases HTTP resources.
func (w *Writer) Close() error {
	return nil
}
