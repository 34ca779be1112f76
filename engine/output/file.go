package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// FileSink mirrors each slot into <dir>/<slot>.txt. Writes take an
// advisory lock on <dir>/.lock so concurrent CLI processes sharing a
// directory never interleave.
type FileSink struct {
	dir  string
	lock *flock.Flock
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{dir: dir, lock: flock.New(filepath.Join(dir, ".lock"))}, nil
}

// Path returns the file backing a slot.
func (f *FileSink) Path(slot string) string {
	return filepath.Join(f.dir, slot+".txt")
}

func (f *FileSink) withLock(ctx context.Context, fn func() error) error {
	ok, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock output directory: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to lock output directory %s", f.dir)
	}
	defer func() { _ = f.lock.Unlock() }()
	return fn()
}

func (f *FileSink) Render(ctx context.Context, d Delivery) error {
	return f.withLock(ctx, func() error {
		tmp, err := os.CreateTemp(f.dir, d.Slot+".*.tmp")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		if _, err := tmp.WriteString(d.Content); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to write %s: %w", d.Slot, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		if err := os.Rename(tmp.Name(), f.Path(d.Slot)); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to replace %s: %w", d.Slot, err)
		}
		return nil
	})
}

func (f *FileSink) Alert(ctx context.Context, a Alert) error {
	return f.withLock(ctx, func() error {
		fh, err := os.OpenFile(filepath.Join(f.dir, "alerts.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer fh.Close()
		_, err = fmt.Fprintf(fh, "%s\t%s\t%s\t%s\n", time.Now().UTC().Format(time.RFC3339), a.Action, a.Level, a.Message)
		return err
	})
}
