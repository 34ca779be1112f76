package output

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/compozy/codeassist/engine/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delivery(gen uint64, content string) Delivery {
	return Delivery{
		Action:     action.Generate,
		Slot:       "generated-code",
		TaskID:     "task_1",
		Generation: gen,
		Content:    content,
	}
}

func TestBoard_Deliver(t *testing.T) {
	t.Run("Should render deliveries of the current generation", func(t *testing.T) {
		sink := NewMemorySink()
		b := NewBoard(sink)
		gen := b.Claim("generated-code")
		require.NoError(t, b.Deliver(context.Background(), delivery(gen, "print(1)")))
		renders := sink.Renders()
		require.Len(t, renders, 1)
		assert.Equal(t, "print(1)", renders[0].Content)
		entry, ok := b.Snapshot("generated-code")
		require.True(t, ok)
		assert.Equal(t, "print(1)", entry.Content)
		assert.False(t, entry.UpdatedAt.IsZero())
	})

	t.Run("Should discard deliveries from a superseded generation", func(t *testing.T) {
		sink := NewMemorySink()
		b := NewBoard(sink)
		first := b.Claim("generated-code")
		second := b.Claim("generated-code")
		assert.False(t, b.IsCurrent("generated-code", first))
		err := b.Deliver(context.Background(), delivery(first, "old"))
		require.ErrorIs(t, err, ErrStale)
		require.NoError(t, b.Deliver(context.Background(), delivery(second, "new")))
		renders := sink.Renders()
		require.Len(t, renders, 1)
		assert.Equal(t, "new", renders[0].Content)
	})

	t.Run("Should keep slots independent", func(t *testing.T) {
		b := NewBoard(nil)
		g := b.Claim("generated-code")
		b.Claim("debugged-code")
		b.Claim("debugged-code")
		assert.Equal(t, uint64(1), g)
		assert.True(t, b.IsCurrent("generated-code", g))
		assert.Equal(t, uint64(2), b.Current("debugged-code"))
	})

	t.Run("Should never let a stale writer win under concurrency", func(t *testing.T) {
		sink := NewMemorySink()
		b := NewBoard(sink)
		gens := make([]uint64, 10)
		for i := range gens {
			gens[i] = b.Claim("generated-code")
		}
		var wg sync.WaitGroup
		for _, g := range gens {
			wg.Add(1)
			go func(g uint64) {
				defer wg.Done()
				_ = b.Deliver(context.Background(), delivery(g, "x"))
			}(g)
		}
		wg.Wait()
		renders := sink.Renders()
		require.Len(t, renders, 1)
		assert.Equal(t, gens[len(gens)-1], renders[0].Generation)
	})
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) Render(ctx context.Context, _ Delivery) error {
	close(s.entered)
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *blockingSink) Alert(context.Context, Alert) error { return nil }

func TestBoard_SlowSink(t *testing.T) {
	t.Run("Should keep the board usable while a render is in progress", func(t *testing.T) {
		sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
		b := NewBoard(sink)
		gen := b.Claim("generated-code")
		delivered := make(chan error, 1)
		go func() {
			delivered <- b.Deliver(context.Background(), delivery(gen, "slow"))
		}()
		<-sink.entered

		claimed := make(chan uint64, 1)
		go func() {
			claimed <- b.Claim("debugged-code")
			_, _ = b.Snapshot("debugged-code")
		}()
		select {
		case g := <-claimed:
			assert.Equal(t, uint64(1), g)
		case <-time.After(time.Second):
			t.Fatal("Claim blocked behind a slow render")
		}
		assert.Equal(t, uint64(2), b.Claim("generated-code"))

		close(sink.release)
		require.NoError(t, <-delivered)
		entry, ok := b.Snapshot("generated-code")
		require.True(t, ok)
		assert.Equal(t, "slow", entry.Content)
		assert.ErrorIs(t, b.Deliver(context.Background(), delivery(gen, "again")), ErrStale)
	})
}

func TestTerminalSink(t *testing.T) {
	t.Run("Should print plain results and alerts to separate writers", func(t *testing.T) {
		var out, errOut bytes.Buffer
		s := NewTerminalSink(&out, &errOut, true)
		require.NoError(t, s.Render(context.Background(), delivery(1, "print(1)\n")))
		require.NoError(t, s.Alert(context.Background(), Alert{Action: action.Generate, Level: AlertError, Message: "boom"}))
		assert.Contains(t, out.String(), "print(1)")
		assert.Contains(t, out.String(), "task_1")
		assert.Equal(t, "[error] boom\n", errOut.String())
	})
}

func TestJSONSink(t *testing.T) {
	t.Run("Should emit one event per line", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewJSONSink(&buf)
		require.NoError(t, s.Render(context.Background(), delivery(3, "x")))
		require.NoError(t, s.Alert(context.Background(), Alert{Action: action.Debug, Level: AlertError, Message: "nope"}))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
		assert.Equal(t, "render", ev["type"])
		assert.Equal(t, "generated-code", ev["delivery"].(map[string]any)["slot"])
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
		assert.Equal(t, "alert", ev["type"])
		assert.Equal(t, "nope", ev["alert"].(map[string]any)["message"])
	})
}

func TestMultiSink(t *testing.T) {
	t.Run("Should fan out to every sink", func(t *testing.T) {
		a, b := NewMemorySink(), NewMemorySink()
		m := MultiSink{a, b}
		require.NoError(t, m.Render(context.Background(), delivery(1, "x")))
		assert.Len(t, a.Renders(), 1)
		assert.Len(t, b.Renders(), 1)
	})
}

func TestFileSink(t *testing.T) {
	t.Run("Should replace the slot file and append alerts", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out")
		s, err := NewFileSink(dir)
		require.NoError(t, err)
		ctx := context.Background()
		require.NoError(t, s.Render(ctx, delivery(1, "first")))
		require.NoError(t, s.Render(ctx, delivery(2, "second")))
		data, err := os.ReadFile(s.Path("generated-code"))
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))

		require.NoError(t, s.Alert(ctx, Alert{Action: action.Optimize, Level: AlertError, Message: "failed"}))
		log, err := os.ReadFile(filepath.Join(dir, "alerts.log"))
		require.NoError(t, err)
		assert.Contains(t, string(log), "optimize\terror\tfailed")

		matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}
