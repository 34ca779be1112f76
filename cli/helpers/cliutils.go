package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/compozy/codeassist/cli/api"
	"github.com/compozy/codeassist/cli/tui/models"
)

// CliError represents a CLI-specific error with enhanced context
type CliError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   string         `json:"details,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *CliError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCliError creates a new CLI error with context
func NewCliError(code, message string, details ...string) *CliError {
	err := &CliError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// WithContext adds context to the error
func (e *CliError) WithContext(key string, value any) *CliError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, api.ErrTimeout) {
		return true
	}
	var cliErr *CliError
	if errors.As(err, &cliErr) && cliErr.Code == CodeTimeout {
		return true
	}
	return ContainsAny(err.Error(), "timeout", "timed out")
}

// IsNetworkError checks if an error is a network-related error
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var cliErr *CliError
	if errors.As(err, &cliErr) && cliErr.Code == CodeNetwork {
		return true
	}
	return api.IsNetworkError(err)
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, api.ErrUnauthorized) {
		return true
	}
	var cliErr *CliError
	if errors.As(err, &cliErr) && cliErr.Code == CodeAuth {
		return true
	}
	return ContainsAny(err.Error(), "unauthorized", "forbidden", "invalid token", "permission denied")
}

// FormatError formats errors based on output mode
func FormatError(err error, mode models.Mode) string {
	if err == nil {
		return ""
	}
	switch mode {
	case models.ModeJSON:
		return formatErrorJSON(err)
	case models.ModeTUI:
		return formatErrorTUI(err)
	default:
		return err.Error()
	}
}

func formatErrorJSON(err error) string {
	response := map[string]any{"error": err.Error(), "details": ""}
	var cliErr *CliError
	if errors.As(err, &cliErr) {
		response = map[string]any{
			"code":    cliErr.Code,
			"error":   cliErr.Message,
			"details": cliErr.Details,
		}
		if len(cliErr.Context) > 0 {
			response["context"] = cliErr.Context
		}
	}
	out, merr := json.MarshalIndent(response, "", "  ")
	if merr != nil {
		return `{"error": "JSON marshaling failed", "details": ""}`
	}
	return string(out)
}

var (
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)
	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)
)

func formatErrorTUI(err error) string {
	message, details := err.Error(), ""
	var cliErr *CliError
	if errors.As(err, &cliErr) {
		message, details = cliErr.Message, cliErr.Details
	}
	result := fmt.Sprintf("%s %s", errorIcon(err), errorStyle.Render(message))
	if details != "" {
		result += "\n" + detailStyle.Render(fmt.Sprintf("Details: %s", details))
	}
	return result
}

func errorIcon(err error) string {
	switch {
	case IsNetworkError(err):
		return "🌐"
	case IsAuthError(err):
		return "🔐"
	case IsTimeoutError(err):
		return "⏰"
	default:
		return "❌"
	}
}

// OutputErrorTo writes the formatted error to w.
func OutputErrorTo(w io.Writer, err error, mode models.Mode) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, FormatError(err, mode))
}

// ContainsAny reports whether s contains any of the provided substrings.
// The comparison is case-insensitive; empty substrings are ignored.
func ContainsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if sub == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Truncate returns s truncated to at most maxLength characters.
func Truncate(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return s[:maxLength]
	}
	return s[:maxLength-3] + "..."
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
