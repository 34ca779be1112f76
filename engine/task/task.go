package task

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// ID is the opaque task identifier issued by the backend.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions follow. Unknown values
// are treated as still running.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// Created is the body returned by every task creation endpoint.
type Created struct {
	TaskID ID     `json:"task_id"`
	Status Status `json:"status,omitempty"`
}

// State is a single status lookup. Result keeps the raw payload because its
// shape depends on the action: {code, language}, {error}, or the publish
// summary.
type State struct {
	ID     ID              `json:"-"`
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Field returns the string at a gjson path inside the result object.
func (s *State) Field(path string) (string, bool) {
	if s == nil || len(s.Result) == 0 {
		return "", false
	}
	v := gjson.GetBytes(s.Result, path)
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	return v.String(), true
}

// ErrorMessage returns the failure message carried by a failed task.
func (s *State) ErrorMessage() string {
	if msg, ok := s.Field("error"); ok && msg != "" {
		return msg
	}
	return "task failed without an error message"
}
