package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/phrazzld/tunesmith-api/internal/config"
	"github.com/phrazzld/tunesmith-api/internal/generation"
)

const (
	generatePath = "/api/generate"
	tasksPath    = "/api/tasks/"

	// maxErrorBody caps how much of an error response is kept as the message.
	maxErrorBody = 4 << 10

	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// Client implements generation.Provider using the provider's HTTP API.
type Client struct {
	// logger is used for structured logging
	logger *slog.Logger

	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client

	// startRetries is the number of extra attempts after a transient Start failure
	startRetries    int
	initialInterval time.Duration
	maxInterval     time.Duration
}

var _ generation.Provider = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryIntervals overrides the backoff bounds used between Start retries.
func WithRetryIntervals(initial, max time.Duration) Option {
	return func(c *Client) {
		c.initialInterval = initial
		c.maxInterval = max
	}
}

// NewClient creates a provider client from configuration.
//
// Parameters:
//   - logger: A structured logger for operation logging
//   - cfg: Provider configuration with base URL, API key, timeout and retries
//   - opts: Optional overrides, mainly for tests
//
// Returns:
//   - A ready Client, or an error if the configuration is unusable
func NewClient(logger *slog.Logger, cfg config.ProviderConfig, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("provider API key cannot be empty")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		logger:          logger.With("component", "provider_client"),
		baseURL:         base,
		apiKey:          cfg.APIKey,
		httpClient:      &http.Client{Timeout: timeout},
		startRetries:    cfg.StartRetries,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type startResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Start submits a generation request and returns the provider's task id.
// Transient failures are retried with exponential backoff up to the configured
// number of extra attempts; permanent failures are returned immediately.
func (c *Client) Start(ctx context.Context, req generation.StartRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", generation.NewPermanentError(0, "failed to encode start request", err)
	}

	var taskID string
	attempt := 0
	op := func() error {
		attempt++
		id, err := c.startOnce(ctx, body)
		if err != nil {
			if generation.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			c.logger.WarnContext(ctx, "transient error starting generation",
				"attempt", attempt,
				"error", err)
			return err
		}
		taskID = id
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = backoff.WithMaxRetries(b, uint64(max(c.startRetries, 0)))
	policy = backoff.WithContext(policy, ctx)

	if err := backoff.Retry(op, policy); err != nil {
		c.logger.ErrorContext(ctx, "failed to start generation",
			"attempts", attempt,
			"error", err)
		return "", err
	}

	c.logger.InfoContext(ctx, "generation started",
		"external_task_id", taskID,
		"attempts", attempt)
	return taskID, nil
}

func (c *Client) startOnce(ctx context.Context, body []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(generatePath), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// The task may exist already, so a retry could start a duplicate.
		return "", generation.NewPermanentError(resp.StatusCode, "undecodable start response", err)
	}

	id := strings.TrimSpace(out.TaskID)
	if id == "" {
		id = strings.TrimSpace(out.ID)
	}
	if id == "" {
		return "", generation.NewPermanentError(resp.StatusCode, generation.ErrMissingTaskID.Error(), generation.ErrMissingTaskID)
	}
	return id, nil
}

// Poll fetches the current state of a task. It never retries; the poller's
// attempt budget governs repetition.
func (c *Client) Poll(ctx context.Context, externalTaskID string) (*generation.TaskStatusPayload, error) {
	if externalTaskID == "" {
		return nil, generation.NewPermanentError(0, "external task id cannot be empty", nil)
	}

	resp, err := c.do(ctx, http.MethodGet, c.endpoint(tasksPath+url.PathEscape(externalTaskID)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload generation.TaskStatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, generation.NewTransientError(resp.StatusCode, "undecodable status response", err)
	}

	c.logger.DebugContext(ctx, "polled task",
		"external_task_id", externalTaskID,
		"provider_status", payload.Status)
	return &payload, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	return u.String()
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, generation.NewPermanentError(0, "failed to build provider request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts, refused connections and cancelled contexts alike.
		return nil, generation.NewTransientError(0, "", err)
	}
	return resp, nil
}

// checkStatus converts a non-2xx response into a classified ProviderError
// carrying the provider's message.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))

	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil {
		switch {
		case parsed.Error != "":
			msg = parsed.Error
		case parsed.Message != "":
			msg = parsed.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &generation.ProviderError{
		Class:      generation.ClassifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
