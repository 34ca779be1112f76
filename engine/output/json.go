package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

type jsonEvent struct {
	Type     string    `json:"type"`
	Delivery *Delivery `json:"delivery,omitempty"`
	Alert    *Alert    `json:"alert,omitempty"`
}

// JSONSink writes one JSON object per render or alert.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (j *JSONSink) Render(_ context.Context, d Delivery) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(jsonEvent{Type: "render", Delivery: &d})
}

func (j *JSONSink) Alert(_ context.Context, a Alert) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(jsonEvent{Type: "alert", Alert: &a})
}

// MultiSink fans out to several sinks and returns the first error.
type MultiSink []Sink

func (m MultiSink) Render(ctx context.Context, d Delivery) error {
	var first error
	for _, s := range m {
		if err := s.Render(ctx, d); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Alert(ctx context.Context, a Alert) error {
	var first error
	for _, s := range m {
		if err := s.Alert(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
