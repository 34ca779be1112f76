package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/compozy/codeassist/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/romdo/go-debounce"
	"gopkg.in/yaml.v3"
)

// OutputWriter handles different output formats
type OutputWriter struct {
	writer io.Writer
	format OutputFormat
}

// NewOutputWriter creates a new output writer
func NewOutputWriter(writer io.Writer, format OutputFormat) *OutputWriter {
	return &OutputWriter{writer: writer, format: format}
}

// WriteData writes data in the configured format
func (ow *OutputWriter) WriteData(data any) error {
	switch ow.format {
	case OutputFormatJSON, OutputFormatAuto, "":
		encoder := json.NewEncoder(ow.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(ow.writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(data); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", ow.format)
	}
}

// WriteTable writes aligned rows under a header line.
func (ow *OutputWriter) WriteTable(headers []string, rows [][]string) error {
	w := tabwriter.NewWriter(ow.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

// ReadInput reads from stdin for "" or "-", otherwise from the named file.
func ReadInput(ctx context.Context, source string) ([]byte, error) {
	return readInput(ctx, source, os.Stdin)
}

func readInput(ctx context.Context, source string, stdin io.Reader) ([]byte, error) {
	log := logger.FromContext(ctx)
	switch source {
	case "", "-":
		log.Debug("reading from stdin")
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, NewCliError(CodeInvalidInput, "Failed to read stdin", err.Error())
		}
		return data, nil
	default:
		log.Debug("reading from file", "file", source)
		return ReadFile(source)
	}
}

// ReadFile reads a file with CLI error codes
func ReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, NewCliError(CodeInvalidInput, "File path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewCliError(CodeInvalidInput, fmt.Sprintf("File not found: %s", path))
		}
		return nil, NewCliError(CodeInvalidInput, fmt.Sprintf("Failed to read file: %s", path), err.Error())
	}
	return data, nil
}

const (
	defaultWatchInterval = time.Second
	// Editors emit several events per save; they collapse into one check.
	watchDebounceWait    = 100 * time.Millisecond
	watchDebounceMaxWait = time.Second
)

var (
	errFileMissing         = errors.New("file missing")
	errFSNotifyUnavailable = errors.New("fsnotify unavailable")
	errFSNotifyClosed      = errors.New("fsnotify watcher closed unexpectedly")
)

// WatchFile calls callback with the file contents once at start and again
// after every change until ctx is done. It falls back to modtime polling when
// fsnotify cannot watch the directory.
func WatchFile(ctx context.Context, path string, callback func([]byte) error) error {
	if path == "" {
		return NewCliError(CodeInvalidInput, "File path cannot be empty")
	}
	if callback == nil {
		return NewCliError(CodeInvalidInput, "callback cannot be nil")
	}
	log := logger.FromContext(ctx)
	log.Info("watching file for changes", "file", path)
	data, err := ReadFile(path)
	if err != nil {
		return err
	}
	if err := callback(data); err != nil {
		return err
	}
	w := &fileWatcher{path: path, callback: callback, log: log}
	if err := w.watchFSNotify(ctx); err != nil {
		if errors.Is(err, errFSNotifyUnavailable) || errors.Is(err, errFSNotifyClosed) {
			log.Warn("fsnotify unavailable, falling back to polling", "file", path, "error", err)
			return w.watchTicker(ctx, defaultWatchInterval)
		}
		return err
	}
	return nil
}

type fileWatcher struct {
	path     string
	callback func([]byte) error
	log      logger.Logger
	lastMod  time.Time
}

func (w *fileWatcher) modTime() (time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, errFileMissing
		}
		return time.Time{}, NewCliError(CodeInvalidInput, fmt.Sprintf("Failed to stat file: %s", w.path), err.Error())
	}
	return info.ModTime(), nil
}

// check invokes the callback when the file changed since the last delivery.
func (w *fileWatcher) check() error {
	mod, err := w.modTime()
	if err != nil {
		if errors.Is(err, errFileMissing) {
			w.log.Debug("file no longer exists", "file", w.path)
			w.lastMod = time.Time{}
			return nil
		}
		return err
	}
	if !mod.After(w.lastMod) {
		return nil
	}
	data, err := ReadFile(w.path)
	if err != nil {
		return err
	}
	w.lastMod = mod
	w.log.Debug("file changed", "file", w.path)
	if err := w.callback(data); err != nil {
		return fmt.Errorf("watch callback failed: %w", err)
	}
	return nil
}

func (w *fileWatcher) seed() error {
	mod, err := w.modTime()
	if err != nil && !errors.Is(err, errFileMissing) {
		return err
	}
	w.lastMod = mod
	return nil
}

func (w *fileWatcher) watchTicker(ctx context.Context, interval time.Duration) error {
	if err := w.seed(); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

func (w *fileWatcher) watchFSNotify(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", errFSNotifyUnavailable, err)
	}
	defer watcher.Close()
	// Editors often replace files on save, so the parent directory is watched.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("%w: %v", errFSNotifyUnavailable, err)
	}
	if err := w.seed(); err != nil {
		return err
	}
	changed := make(chan struct{}, 1)
	trigger, cancel := debounce.NewWithMaxWait(watchDebounceWait, watchDebounceMaxWait, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errFSNotifyClosed
			}
			if eventMatchesFile(event, w.path) {
				trigger()
			}
		case <-changed:
			if err := w.check(); err != nil {
				return err
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return errFSNotifyClosed
			}
			w.log.Warn("file watcher error", "file", w.path, "error", werr)
		}
	}
}

func eventMatchesFile(event fsnotify.Event, target string) bool {
	if event.Name == "" || filepath.Clean(event.Name) != filepath.Clean(target) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
