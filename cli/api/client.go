package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/compozy/codeassist/engine/task"
	"github.com/compozy/codeassist/engine/tracker"
	"github.com/compozy/codeassist/pkg/config"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/go-resty/resty/v2"
)

const (
	defaultRetryCount = 2
	defaultRetryWait  = 200 * time.Millisecond
	maxRetryWait      = 2 * time.Second
)

var _ tracker.TaskAPI = (*Client)(nil)

// Client talks to the code assistant task API.
type Client struct {
	http    *resty.Client
	baseURL string
}

type Option func(*resty.Client)

// WithRetry sets how often idempotent status lookups are retried.
func WithRetry(count int, wait time.Duration) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(count).SetRetryWaitTime(wait)
	}
}

// WithLogger routes resty's internal logs to l.
func WithLogger(l logger.Logger) Option {
	return func(c *resty.Client) {
		c.SetLogger(restyLogger{l: l})
	}
}

func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	baseURL, err := buildBaseURL(cfg.CLI.BaseURL)
	if err != nil {
		return nil, err
	}
	client := buildHTTPClient(cfg, baseURL)
	for _, opt := range opts {
		opt(client)
	}
	return &Client{http: client, baseURL: baseURL}, nil
}

func buildBaseURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", fmt.Errorf("base URL must be absolute with a host, got: %q", raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("base URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	return raw, nil
}

func buildHTTPClient(cfg *config.Config, baseURL string) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.CLI.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(defaultRetryWait).
		SetRetryMaxWaitTime(maxRetryWait).
		AddRetryCondition(retryCondition)
	if key := cfg.CLI.APIKey.Value(); key != "" {
		client.SetAuthToken(key)
	}
	if cfg.Runtime.LogLevel == "debug" {
		client.SetDebug(true)
	}
	return client
}

// retryCondition retries status lookups only. Creation requests are never
// repeated since the backend would start a second task.
func retryCondition(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return IsNetworkError(err)
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// BaseURL is the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateTask posts body to an action endpoint and returns the new task id.
func (c *Client) CreateTask(ctx context.Context, endpoint string, body any) (*task.Created, error) {
	log := logger.FromContext(ctx)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, transformRequestError(err, "submit task")
	}
	if err := validateResponse(resp, "endpoint "+endpoint); err != nil {
		return nil, err
	}
	var created task.Created
	if err := json.Unmarshal(resp.Body(), &created); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if created.TaskID.IsZero() {
		return nil, fmt.Errorf("%w: missing task_id", ErrBadResponse)
	}
	log.Debug("Task created", "endpoint", endpoint, "task_id", created.TaskID, "status", resp.StatusCode())
	return &created, nil
}

// GetTask fetches the current status of a task. It is never cached.
func (c *Client) GetTask(ctx context.Context, id task.ID) (*task.State, error) {
	body, err := c.GetTaskRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	var state task.State
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if state.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrBadResponse)
	}
	state.ID = id
	return &state, nil
}

// GetTaskRaw returns the undecoded status body.
func (c *Client) GetTaskRaw(ctx context.Context, id task.ID) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Cache-Control", "no-cache").
		SetPathParam("id", id.String()).
		Get("/task/{id}")
	if err != nil {
		return nil, transformRequestError(err, "check task status")
	}
	if err := validateResponse(resp, "task "+id.String()); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return resp.Body(), nil
}

type restyLogger struct {
	l logger.Logger
}

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }
