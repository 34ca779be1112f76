package output

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/task"
)

// ErrStale is returned when a delivery belongs to a superseded generation.
var ErrStale = errors.New("stale delivery discarded")

// Delivery is a completed result addressed to an output slot.
type Delivery struct {
	Action       action.Name `json:"action"`
	Slot         string      `json:"slot"`
	TaskID       task.ID     `json:"task_id"`
	InvocationID string      `json:"invocation_id"`
	Generation   uint64      `json:"generation"`
	Content      string      `json:"content"`
}

type AlertLevel string

const (
	AlertError AlertLevel = "error"
	AlertInfo  AlertLevel = "info"
)

// Alert is the user-facing notice for validation, transport and task errors.
type Alert struct {
	Action       action.Name `json:"action"`
	Level        AlertLevel  `json:"level"`
	Message      string      `json:"message"`
	TaskID       task.ID     `json:"task_id,omitempty"`
	InvocationID string      `json:"invocation_id,omitempty"`
}

// Sink renders deliveries and alerts somewhere visible.
type Sink interface {
	Render(ctx context.Context, d Delivery) error
	Alert(ctx context.Context, a Alert) error
}

// Entry is the last content written to a slot.
type Entry struct {
	Delivery
	UpdatedAt time.Time
}

type slotState struct {
	generation uint64
	entry      *Entry

	// render serializes sink writes for the slot without holding the board lock.
	render sync.Mutex
}

// Board owns the output slots. Each slot has a generation counter; only the
// holder of the current generation may write to it.
type Board struct {
	mu    sync.Mutex
	slots map[string]*slotState
	sink  Sink
	now   func() time.Time
}

func NewBoard(sink Sink) *Board {
	return &Board{
		slots: make(map[string]*slotState),
		sink:  sink,
		now:   time.Now,
	}
}

func (b *Board) slot(id string) *slotState {
	s, ok := b.slots[id]
	if !ok {
		s = &slotState{}
		b.slots[id] = s
	}
	return s
}

// Claim starts a new generation for the slot and returns it. Any earlier
// generation becomes stale.
func (b *Board) Claim(slotID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.slot(slotID)
	s.generation++
	return s.generation
}

// Current returns the slot's newest generation.
func (b *Board) Current(slotID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot(slotID).generation
}

// IsCurrent reports whether gen is still the newest generation for the slot.
func (b *Board) IsCurrent(slotID string, gen uint64) bool {
	return b.Current(slotID) == gen
}

// Deliver writes d to its slot if d.Generation is current. Writes to one slot
// are serialized and the generation is checked once the slot is held, so a
// stale writer can never render after a newer one. Other slots, Claim and
// Snapshot stay available while the sink renders.
func (b *Board) Deliver(ctx context.Context, d Delivery) error {
	b.mu.Lock()
	s := b.slot(d.Slot)
	b.mu.Unlock()

	s.render.Lock()
	defer s.render.Unlock()
	if !b.IsCurrent(d.Slot, d.Generation) {
		return ErrStale
	}
	if b.sink != nil {
		if err := b.sink.Render(ctx, d); err != nil {
			return err
		}
	}
	b.mu.Lock()
	s.entry = &Entry{Delivery: d, UpdatedAt: b.now()}
	b.mu.Unlock()
	return nil
}

// Alert forwards a notice to the sink.
func (b *Board) Alert(ctx context.Context, a Alert) error {
	if b.sink == nil {
		return nil
	}
	return b.sink.Alert(ctx, a)
}

// Snapshot returns the last entry written to a slot.
func (b *Board) Snapshot(slotID string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[slotID]
	if !ok || s.entry == nil {
		return Entry{}, false
	}
	return *s.entry, true
}
