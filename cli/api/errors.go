package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrUnauthorized = errors.New("authentication failed")
	ErrNetwork      = errors.New("network error")
	ErrTimeout      = errors.New("request timed out")
	ErrBadResponse  = errors.New("invalid response from server")
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter string
}

func (e *StatusError) Error() string {
	return e.Message
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrTaskNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

func transformRequestError(err error, op string) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: request canceled: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeoutError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	if IsNetworkError(err) {
		return fmt.Errorf("%s: %w: unable to reach the code assistant service: %w", op, ErrNetwork, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func validateResponse(resp *resty.Response, subject string) error {
	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}
	serr := &StatusError{StatusCode: code}
	switch code {
	case http.StatusUnauthorized:
		serr.Message = "authentication failed: please check your API key"
	case http.StatusForbidden:
		serr.Message = "permission denied"
	case http.StatusNotFound:
		serr.Message = fmt.Sprintf("%s not found", subject)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		serr.Message = withAPIMessage(resp, "invalid request")
	case http.StatusTooManyRequests:
		serr.RetryAfter = strings.TrimSpace(resp.Header().Get("Retry-After"))
		if serr.RetryAfter != "" {
			serr.Message = fmt.Sprintf("rate limit exceeded: retry after %s", serr.RetryAfter)
		} else {
			serr.Message = "rate limit exceeded: please retry later"
		}
	default:
		if code >= http.StatusInternalServerError {
			serr.Message = withAPIMessage(resp, "server error")
		} else {
			serr.Message = withAPIMessage(resp, "API error")
		}
	}
	return serr
}

func withAPIMessage(resp *resty.Response, prefix string) string {
	if msg := parseAPIError(resp); msg != "" {
		return fmt.Sprintf("%s: %s (status %d)", prefix, msg, resp.StatusCode())
	}
	return fmt.Sprintf("%s (status %d)", prefix, resp.StatusCode())
}

// parseAPIError reads {"error"} or {"detail"} style bodies.
func parseAPIError(resp *resty.Response) string {
	body := resp.Body()
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Error   string          `json:"error"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	for _, msg := range []string{envelope.Error, envelope.Message} {
		if s := strings.TrimSpace(msg); s != "" {
			return s
		}
	}
	var detail string
	if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
		return strings.TrimSpace(detail)
	}
	return ""
}

func isTimeoutError(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out")
}

// IsNetworkError reports whether err looks like a connectivity failure.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"network is unreachable",
		"no such host",
		"name resolution",
		"eof",
	} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
