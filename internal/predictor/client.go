// Package predictor wraps the external wait-time regression service. The
// model itself is opaque: the adapter only knows the /predict wire contract
// and how to degrade when the service is slow or down.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable means the prediction service could not produce an answer
// within the retry budget. Callers degrade to an unknown ETA; triage never
// fails on a missing prediction.
var ErrUnavailable = errors.New("prediction service unavailable")

const (
	defaultTimeout = 5 * time.Second
	maxRetries     = 2
	backoffBase    = 250 * time.Millisecond
)

// FeatureVector is the deterministic projection of a patient's intake onto
// the model's input space.
type FeatureVector struct {
	Symptoms  []string `json:"symptoms"`
	QueueSize int      `json:"queue_size"`
}

type prediction struct {
	PredictedWaitMinutes float64 `json:"predicted_wait_minutes"`
}

// Client calls the prediction service with a per-call timeout and at most
// two automatic retries with exponential backoff on transient failures.
// Calls for different patients are independent.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger.With().Str("component", "predictor").Logger(),
	}
}

// Predict implements triage.Predictor.
func (c *Client) Predict(ctx context.Context, symptomCodes []string, queueSize int) (float64, error) {
	fv := FeatureVector{Symptoms: symptomCodes, QueueSize: queueSize}
	body, err := json.Marshal(fv)
	if err != nil {
		return 0, fmt.Errorf("encode feature vector: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			c.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("retrying prediction")
		}

		eta, retryable, err := c.predictOnce(ctx, body)
		if err == nil {
			return eta, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	c.logger.Warn().Err(lastErr).Msg("prediction retries exhausted")
	return 0, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) predictOnce(ctx context.Context, body []byte) (eta float64, retryable bool, err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors and timeouts are transient; the parent context
		// ending is not.
		return 0, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return 0, true, fmt.Errorf("prediction service returned %d", resp.StatusCode)
	default:
		return 0, false, fmt.Errorf("prediction service returned %d", resp.StatusCode)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return 0, false, fmt.Errorf("decode prediction: %w", err)
	}
	return p.PredictedWaitMinutes, false, nil
}
