package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiError is the engine's structured non-2xx response body.
type apiError struct {
	Err    string `json:"error"`
	Status int    `json:"status"`
}

type ClientConfig struct {
	BaseURL string
	APIKey  string
	// HTTPClient is optional and defaults to a client with Timeout set.
	HTTPClient  *http.Client
	MaxAttempts int
	RetryBase   time.Duration
	Timeout     time.Duration
}

type client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
	retryBase   time.Duration
}

// NewClient returns an Engine over the speech service's HTTP API.
// Transport errors and 5xx responses are retried with bounded
// exponential backoff; 4xx responses surface immediately.
func NewClient(cfg ClientConfig) Engine {
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	return &client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  cfg.HTTPClient,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
	}
}

type submitRequest struct {
	AudioURL   string `json:"audio_url"`
	WebhookURL string `json:"webhook_url"`
}

func (c *client) Submit(ctx context.Context, audioURL, callbackURL string) (string, error) {
	body, err := json.Marshal(submitRequest{
		AudioURL:   audioURL,
		WebhookURL: callbackURL,
	})
	if err != nil {
		return "", err
	}

	var status JobStatus
	if err := c.call(ctx, http.MethodPost, "/transcripts", body, &status); err != nil {
		var apiErr *SubmissionError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			// A 404 on submit is still a rejection, not an unknown job.
			return "", apiErr
		}
		return "", err
	}
	if status.JobID == "" {
		return "", &SubmissionError{StatusCode: http.StatusOK, Message: "engine returned no job id"}
	}

	return status.JobID, nil
}

func (c *client) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var status JobStatus
	err := c.call(ctx, http.MethodGet, "/transcripts/"+jobID, nil, &status)
	if err != nil {
		var apiErr *SubmissionError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: id=%s", ErrJobUnknown, jobID)
		}
		return nil, err
	}
	return &status, nil
}

// call executes one API request, retrying transport failures and 5xx
// responses up to maxAttempts with doubling delay.
func (c *client) call(ctx context.Context, method, path string, body []byte, v interface{}) error {
	var lastErr error
	delay := c.retryBase

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		retryable, err := c.do(ctx, method, path, body, v)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *client) do(ctx context.Context, method, path string, body []byte, v interface{}) (retryable bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return true, err
	}

	if res.StatusCode >= 500 {
		return true, fmt.Errorf("engine returned status %d", res.StatusCode)
	}
	if res.StatusCode >= 400 {
		var ae apiError
		if err := json.Unmarshal(resBody, &ae); err != nil || ae.Err == "" {
			ae.Err = strings.TrimSpace(string(resBody))
		}
		return false, &SubmissionError{StatusCode: res.StatusCode, Message: ae.Err}
	}

	if v != nil {
		if err := json.Unmarshal(resBody, v); err != nil {
			return false, fmt.Errorf("failed to decode engine response: %w", err)
		}
	}

	return false, nil
}
