package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/compozy/codeassist/cli/cmd"
	"github.com/compozy/codeassist/cli/helpers"
	"github.com/compozy/codeassist/cli/tui/models"
	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/tracker"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Script is a batch of submissions run concurrently.
type Script struct {
	Submissions []Submission `yaml:"submissions" json:"submissions"`
}

// Submission is one entry of a session script. Input wins over File.
type Submission struct {
	Action        action.Name `yaml:"action"         json:"action"`
	Input         string      `yaml:"input"          json:"input,omitempty"`
	File          string      `yaml:"file"           json:"file,omitempty"`
	ErrorMessages []string    `yaml:"error_messages" json:"error_messages,omitempty"`
	FilePath      string      `yaml:"file_path"      json:"file_path,omitempty"`
	CommitMessage string      `yaml:"commit_message" json:"commit_message,omitempty"`
}

// Result summarizes how one submission ended.
type Result struct {
	Index    int                   `json:"index"`
	Action   action.Name           `json:"action"`
	TaskID   string                `json:"task_id,omitempty"`
	Status   tracker.OutcomeStatus `json:"status"`
	Message  string                `json:"message,omitempty"`
	Attempts int                   `json:"attempts"`
	Elapsed  time.Duration         `json:"elapsed"`
}

// LoadScript reads a YAML script and resolves file inputs relative to it.
func LoadScript(path string) (*Script, error) {
	data, err := helpers.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, helpers.NewCliError(helpers.CodeInvalidInput, "Invalid session script", err.Error())
	}
	if len(script.Submissions) == 0 {
		return nil, helpers.NewCliError(helpers.CodeInvalidInput, "Session script has no submissions")
	}
	dir := filepath.Dir(path)
	for i := range script.Submissions {
		s := &script.Submissions[i]
		if _, err := action.Lookup(string(s.Action)); err != nil {
			return nil, helpers.NewCliError(helpers.CodeInvalidInput,
				fmt.Sprintf("Submission %d has an unknown action", i), err.Error())
		}
		if s.File != "" && !filepath.IsAbs(s.File) {
			s.File = filepath.Join(dir, s.File)
		}
	}
	return &script, nil
}

// NewSessionCommand runs every submission of a script concurrently.
func NewSessionCommand() *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   "session <script.yaml>",
		Short: "Run several submissions concurrently",
		Long: `Run the submissions listed in a YAML script concurrently.

Each entry names an action and its input (inline or from a file). Submissions
for the same action share an output slot, so a later one supersedes an earlier
one exactly like repeated clicks on the same button.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{
				RequireTracker: true,
				StreamOutput:   true,
			}, cmd.ModeHandlers{JSON: run, TUI: run}, args)
		},
	}
	cobraCmd.Flags().Int("concurrency", 0, "Maximum submissions in flight (0 for unlimited)")
	return cobraCmd
}

func run(ctx context.Context, cobraCmd *cobra.Command, e *cmd.CommandExecutor, args []string) error {
	script, err := LoadScript(args[0])
	if err != nil {
		return err
	}
	limit, err := cobraCmd.Flags().GetInt("concurrency")
	if err != nil {
		return fmt.Errorf("failed to get concurrency flag: %w", err)
	}
	results := Run(ctx, e.Tracker(), script, limit)
	if err := writeResults(e, results); err != nil {
		return err
	}
	return summarize(results)
}

// Run submits every entry and waits for all of them. Failures never stop the
// other submissions.
func Run(ctx context.Context, tr *tracker.Tracker, script *Script, limit int) []Result {
	log := logger.FromContext(ctx)
	results := make([]Result, len(script.Submissions))
	var mu sync.Mutex
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, sub := range script.Submissions {
		g.Go(func() error {
			res := runOne(ctx, tr, i, sub)
			log.Debug("Submission settled", "index", i, "action", sub.Action, "status", res.Status)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runOne(ctx context.Context, tr *tracker.Tracker, index int, sub Submission) Result {
	res := Result{Index: index, Action: sub.Action, Status: tracker.OutcomeError}
	input := sub.Input
	if input == "" && sub.File != "" {
		data, err := helpers.ReadFile(sub.File)
		if err != nil {
			res.Message = err.Error()
			return res
		}
		input = string(data)
	}
	var opts []tracker.ParamOption
	if len(sub.ErrorMessages) > 0 {
		opts = append(opts, tracker.WithErrorMessages(sub.ErrorMessages...))
	}
	if sub.FilePath != "" || sub.CommitMessage != "" {
		opts = append(opts, tracker.WithPublishTarget(sub.FilePath, sub.CommitMessage))
	}
	h, err := tr.SubmitAndTrack(ctx, sub.Action, input, opts...)
	if err != nil {
		res.Message = helpers.Classify(err).Message
		return res
	}
	res.TaskID = h.TaskID().String()
	o, err := h.Wait(ctx)
	if err != nil && o.Status == "" {
		res.Message = err.Error()
		return res
	}
	res.Status, res.Message, res.Attempts, res.Elapsed = o.Status, o.Message, o.Attempts, o.Elapsed
	return res
}

func writeResults(e *cmd.CommandExecutor, results []Result) error {
	if e.GetMode() != models.ModeTUI {
		return helpers.NewOutputWriter(e.Out(), helpers.OutputFormatJSON).WriteData(map[string]any{
			"type":    "summary",
			"results": results,
		})
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			strconv.Itoa(r.Index),
			string(r.Action),
			r.TaskID,
			string(r.Status),
			strconv.Itoa(r.Attempts),
			helpers.FormatDuration(r.Elapsed),
			helpers.Truncate(r.Message, 60),
		})
	}
	fmt.Fprintln(e.Out())
	return helpers.NewOutputWriter(e.Out(), helpers.OutputFormatTable).
		WriteTable([]string{"#", "ACTION", "TASK", "STATUS", "CHECKS", "ELAPSED", "MESSAGE"}, rows)
}

// summarize fails the command when any submission ended badly. Superseded
// submissions were replaced on purpose and do not count.
func summarize(results []Result) error {
	failed := 0
	for _, r := range results {
		if r.Status != tracker.OutcomeCompleted && r.Status != tracker.OutcomeSuperseded {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return helpers.NewCliError(helpers.CodeCommandFailed,
		fmt.Sprintf("%d of %d submissions did not complete", failed, len(results)))
}
