package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/compozy/codeassist/cli/api"
	"github.com/compozy/codeassist/cli/helpers"
	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/output"
	"github.com/compozy/codeassist/engine/tracker"
	"github.com/compozy/codeassist/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadScript(t *testing.T) {
	t.Run("Should resolve file inputs relative to the script", func(t *testing.T) {
		dir := t.TempDir()
		path := writeScript(t, dir, `
submissions:
  - action: generate
    input: print hello
  - action: debug
    file: broken.py
    error_messages: ["NameError: x"]
`)
		script, err := LoadScript(path)
		require.NoError(t, err)
		require.Len(t, script.Submissions, 2)
		assert.Equal(t, action.Generate, script.Submissions[0].Action)
		assert.Equal(t, filepath.Join(dir, "broken.py"), script.Submissions[1].File)
		assert.Equal(t, []string{"NameError: x"}, script.Submissions[1].ErrorMessages)
	})
	t.Run("Should reject unknown actions", func(t *testing.T) {
		path := writeScript(t, t.TempDir(), "submissions:\n  - action: explode\n    input: x\n")
		_, err := LoadScript(path)
		var cliErr *helpers.CliError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, helpers.CodeInvalidInput, cliErr.Code)
	})
	t.Run("Should reject an empty script", func(t *testing.T) {
		path := writeScript(t, t.TempDir(), "submissions: []\n")
		_, err := LoadScript(path)
		assert.Error(t, err)
	})
	t.Run("Should fail for a missing script", func(t *testing.T) {
		_, err := LoadScript(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

type fakeBackend struct {
	mu      sync.Mutex
	seq     int
	results map[string]string
	bodies  map[string]map[string]any
}

func newFakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	b := &fakeBackend{results: make(map[string]string), bodies: make(map[string]map[string]any)}
	mux := http.NewServeMux()
	create := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.seq++
		id := "task_" + string(rune('0'+b.seq))
		switch r.URL.Path {
		case "/api/debug-code":
			b.results[id] = `{"status":"failed","result":{"error":"model unavailable"}}`
		default:
			b.results[id] = `{"status":"completed","result":{"code":"print('hi')","language":"python"}}`
		}
		b.bodies[id] = body
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"` + id + `","status":"pending"}`))
	}
	for _, desc := range action.All() {
		mux.HandleFunc("/api"+desc.Endpoint, create)
	}
	mux.HandleFunc("/api/task/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/task/")
		b.mu.Lock()
		body, ok := b.results[id]
		b.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTracker(t *testing.T, srv *httptest.Server) (*tracker.Tracker, *output.MemorySink) {
	t.Helper()
	cfg := config.Default()
	cfg.CLI.BaseURL = srv.URL + "/api"
	cfg.CLI.Timeout = 2 * time.Second
	client, err := api.NewClient(cfg, api.WithRetry(0, time.Millisecond))
	require.NoError(t, err)
	opts := tracker.OptionsFromConfig(cfg)
	opts.Poll.Interval = 5 * time.Millisecond
	opts.Poll.Backoff = "constant"
	opts.Poll.MaxAttempts = 20
	sink := output.NewMemorySink()
	tr := tracker.New(client, output.NewBoard(sink), opts)
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr, sink
}

func TestRun(t *testing.T) {
	t.Run("Should run every submission and keep going after a failure", func(t *testing.T) {
		srv := newFakeBackend(t)
		tr, sink := newTracker(t, srv)
		script := &Script{Submissions: []Submission{
			{Action: action.Generate, Input: "print hi"},
			{Action: action.Debug, Input: "x = y", ErrorMessages: []string{"NameError"}},
			{Action: action.Optimize, Input: "for i in range(10): pass"},
		}}
		results := Run(context.Background(), tr, script, 2)
		require.Len(t, results, 3)
		assert.Equal(t, tracker.OutcomeCompleted, results[0].Status)
		assert.Equal(t, tracker.OutcomeFailed, results[1].Status)
		assert.Contains(t, results[1].Message, "model unavailable")
		assert.Equal(t, tracker.OutcomeCompleted, results[2].Status)
		for i, r := range results {
			assert.Equal(t, i, r.Index)
			assert.NotEmpty(t, r.TaskID)
		}
		assert.Len(t, sink.Renders(), 2)
		err := summarize(results)
		var cliErr *helpers.CliError
		require.ErrorAs(t, err, &cliErr)
		assert.Contains(t, cliErr.Message, "1 of 3")
	})
	t.Run("Should record unreadable input files without submitting", func(t *testing.T) {
		srv := newFakeBackend(t)
		tr, _ := newTracker(t, srv)
		script := &Script{Submissions: []Submission{
			{Action: action.Generate, File: filepath.Join(t.TempDir(), "missing.txt")},
		}}
		results := Run(context.Background(), tr, script, 0)
		require.Len(t, results, 1)
		assert.Equal(t, tracker.OutcomeError, results[0].Status)
		assert.Empty(t, results[0].TaskID)
	})
}

func TestSummarize(t *testing.T) {
	t.Run("Should not count superseded submissions as failures", func(t *testing.T) {
		results := []Result{
			{Status: tracker.OutcomeSuperseded},
			{Status: tracker.OutcomeCompleted},
		}
		assert.NoError(t, summarize(results))
	})
	t.Run("Should count timeouts and cancellations", func(t *testing.T) {
		results := []Result{
			{Status: tracker.OutcomeTimedOut},
			{Status: tracker.OutcomeCancelled},
			{Status: tracker.OutcomeCompleted},
		}
		err := summarize(results)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 of 3")
	})
}
