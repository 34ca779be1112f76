package output

import (
	"context"
	"sync"
)

// MemorySink records everything it is given.
type MemorySink struct {
	mu      sync.Mutex
	renders []Delivery
	alerts  []Alert
	notify  chan struct{}
}

func NewMemorySink() *MemorySink {
	return &MemorySink{notify: make(chan struct{}, 1)}
}

func (m *MemorySink) Render(_ context.Context, d Delivery) error {
	m.mu.Lock()
	m.renders = append(m.renders, d)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *MemorySink) Alert(_ context.Context, a Alert) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *MemorySink) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Changed fires after a render or alert.
func (m *MemorySink) Changed() <-chan struct{} {
	return m.notify
}

func (m *MemorySink) Renders() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.renders))
	copy(out, m.renders)
	return out
}

func (m *MemorySink) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
