package actions

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/compozy/codeassist/cli/cmd"
	"github.com/compozy/codeassist/cli/helpers"
	"github.com/compozy/codeassist/cli/tui/models"
	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/tracker"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var shortHelp = map[action.Name]string{
	action.Generate: "Generate code from a prompt",
	action.Debug:    "Find and fix bugs in code",
	action.Optimize: "Optimize code for performance, memory or readability",
	action.Document: "Add documentation to code",
	action.Publish:  "Commit code to the configured GitHub repository",
}

// NewCommands returns one command per action.
func NewCommands() []*cobra.Command {
	out := make([]*cobra.Command, 0, len(action.All()))
	for _, desc := range action.All() {
		out = append(out, NewActionCommand(desc))
	}
	return out
}

// NewActionCommand submits input to the action's endpoint and waits for the
// task to finish.
func NewActionCommand(desc action.Descriptor) *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   string(desc.Name) + " [input...]",
		Short: shortHelp[desc.Name],
		Long: fmt.Sprintf(`%s.

Input is taken from the arguments, from --file, or from stdin when it is piped.
The result is written to the %q output slot.`, shortHelp[desc.Name], desc.OutputID),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return execute(cobraCmd, desc, args)
		},
	}
	f := cobraCmd.Flags()
	f.StringP("file", "f", "", "Read input from this file (- for stdin)")
	f.Bool("watch", false, "Resubmit whenever --file changes")
	switch desc.Name {
	case action.Debug:
		f.StringArrayP("error-message", "e", nil, "Error output to include; repeatable")
	case action.Optimize:
		f.String("optimization-target", "", "performance, memory or readability")
	case action.Document:
		f.String("documentation-style", "", "standard, javadoc or docstring")
	case action.Publish:
		f.String("file-path", "", "Repository path to commit the code to")
		f.StringP("commit-message", "m", "", "Commit message (default \"Update <file-path>\")")
		f.String("branch", "", "Target branch")
	}
	return cobraCmd
}

func execute(cobraCmd *cobra.Command, desc action.Descriptor, args []string) error {
	watch, err := cobraCmd.Flags().GetBool("watch")
	if err != nil {
		return fmt.Errorf("failed to get watch flag: %w", err)
	}
	run := submitHandlers(desc)
	if watch {
		run = cmd.ModeHandlers{JSON: watchHandler(desc), TUI: watchHandler(desc)}
	}
	return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{
		RequireTracker: true,
		StreamOutput:   watch,
	}, run, args)
}

func submitHandlers(desc action.Descriptor) cmd.ModeHandlers {
	return cmd.ModeHandlers{
		JSON: func(ctx context.Context, cobraCmd *cobra.Command, e *cmd.CommandExecutor, args []string) error {
			h, err := submit(ctx, cobraCmd, e, desc, args)
			if err != nil {
				return err
			}
			_, err = h.Wait(ctx)
			return err
		},
		TUI: func(ctx context.Context, cobraCmd *cobra.Command, e *cmd.CommandExecutor, args []string) error {
			h, err := submit(ctx, cobraCmd, e, desc, args)
			if err != nil {
				return err
			}
			return RunProgress(ctx, e, h)
		},
	}
}

// RunProgress shows the progress view until every handle settles.
func RunProgress(ctx context.Context, e *cmd.CommandExecutor, handles ...*tracker.Handle) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m := models.NewProgressModel(ctx, cancel, models.FromHandles(handles...), e.Config().Output.Clipboard)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithOutput(e.Out()))
	if _, err := p.Run(); err != nil && !m.Finished() {
		if m.IsQuitting() {
			return context.Canceled
		}
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return m.Err()
}

func submit(
	ctx context.Context,
	cobraCmd *cobra.Command,
	e *cmd.CommandExecutor,
	desc action.Descriptor,
	args []string,
) (*tracker.Handle, error) {
	input, err := readActionInput(ctx, cobraCmd, args, os.Stdin)
	if err != nil {
		return nil, err
	}
	opts, err := paramOptions(cobraCmd, desc)
	if err != nil {
		return nil, err
	}
	return e.Tracker().SubmitAndTrack(ctx, desc.Name, input, opts...)
}

func watchHandler(desc action.Descriptor) cmd.HandlerFunc {
	return func(ctx context.Context, cobraCmd *cobra.Command, e *cmd.CommandExecutor, _ []string) error {
		log := logger.FromContext(ctx).With("action", desc.Name)
		path, err := cobraCmd.Flags().GetString("file")
		if err != nil {
			return fmt.Errorf("failed to get file flag: %w", err)
		}
		if path == "" || path == "-" {
			return helpers.NewCliError(helpers.CodeInvalidInput, "--watch requires --file")
		}
		opts, err := paramOptions(cobraCmd, desc)
		if err != nil {
			return err
		}
		err = helpers.WatchFile(ctx, path, func(data []byte) error {
			h, err := e.Tracker().SubmitAndTrack(ctx, desc.Name, string(data), opts...)
			if err != nil {
				// Already alerted; keep watching for the next edit.
				log.Debug("Submission rejected", "error", err)
				return nil
			}
			log.Debug("Resubmitted after change", "task_id", h.TaskID(), "generation", h.Generation())
			return nil
		})
		return cmd.IgnoreCanceled(err)
	}
}

// readActionInput joins args, or reads --file, or reads piped stdin.
func readActionInput(ctx context.Context, cobraCmd *cobra.Command, args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	path, err := cobraCmd.Flags().GetString("file")
	if err != nil {
		return "", fmt.Errorf("failed to get file flag: %w", err)
	}
	if path != "" {
		data, err := helpers.ReadInput(ctx, path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if stdin == nil || isatty.IsTerminal(stdin.Fd()) || isatty.IsCygwinTerminal(stdin.Fd()) {
		return "", nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", helpers.NewCliError(helpers.CodeInvalidInput, "Failed to read stdin", err.Error())
	}
	return string(data), nil
}

func paramOptions(cobraCmd *cobra.Command, desc action.Descriptor) ([]tracker.ParamOption, error) {
	switch desc.Name {
	case action.Debug:
		msgs, err := cobraCmd.Flags().GetStringArray("error-message")
		if err != nil {
			return nil, fmt.Errorf("failed to get error-message flag: %w", err)
		}
		if len(msgs) == 0 {
			return nil, nil
		}
		return []tracker.ParamOption{tracker.WithErrorMessages(msgs...)}, nil
	case action.Publish:
		filePath, err := cobraCmd.Flags().GetString("file-path")
		if err != nil {
			return nil, fmt.Errorf("failed to get file-path flag: %w", err)
		}
		message, err := cobraCmd.Flags().GetString("commit-message")
		if err != nil {
			return nil, fmt.Errorf("failed to get commit-message flag: %w", err)
		}
		return []tracker.ParamOption{tracker.WithPublishTarget(filePath, message)}, nil
	}
	return nil, nil
}
