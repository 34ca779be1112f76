package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/compozy/codeassist/cli/cmd"
	"github.com/compozy/codeassist/cli/cmd/actions"
	"github.com/compozy/codeassist/cli/helpers"
	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/task"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// NewTaskCommand groups commands that inspect existing tasks.
func NewTaskCommand() *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect tasks created by earlier submissions",
	}
	cobraCmd.AddCommand(NewStatusCommand(), NewWaitCommand())
	return cobraCmd
}

// NewStatusCommand prints a single status check for a task.
func NewStatusCommand() *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Check the current status of a task once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireClient: true}, cmd.ModeHandlers{
				JSON: statusJSON,
				TUI:  statusTUI,
			}, args)
		},
	}
	cobraCmd.Flags().String("field", "", "Print only this gjson path of the response, e.g. result.code")
	return cobraCmd
}

func fetchStatus(ctx context.Context, e *cmd.CommandExecutor, id string) ([]byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, helpers.NewCliError(helpers.CodeValidation, "Please provide a task id.")
	}
	logger.FromContext(ctx).Debug("checking task status", "task_id", id)
	return e.Client().GetTaskRaw(ctx, task.ID(id))
}

func fieldFlag(cobraCmd *cobra.Command) (string, error) {
	field, err := cobraCmd.Flags().GetString("field")
	if err != nil {
		return "", fmt.Errorf("failed to get field flag: %w", err)
	}
	return field, nil
}

func statusJSON(ctx context.Context, cobraCmd *cobra.Command, e *cmd.CommandExecutor, args []string) error {
	body, err := fetchStatus(ctx, e, args[0])
	if err != nil {
		return err
	}
	field, err := fieldFlag(cobraCmd)
	if err != nil {
		return err
	}
	if field != "" {
		value := gjson.GetBytes(body, field)
		if !value.Exists() {
			return helpers.NewCliError(helpers.CodeInvalidInput, fmt.Sprintf("Field %q not present in the response", field))
		}
		_, err := fmt.Fprintln(e.Out(), value.Raw)
		return err
	}
	if !gjson.ValidBytes(body) {
		return helpers.NewCliError(helpers.CodePoll, "Task status response is not valid JSON")
	}
	_, err = e.Out().Write(pretty.Pretty(body))
	return err
}

func statusTUI(ctx context.Context, cobraCmd *cobra.Command, e *cmd.CommandExecutor, args []string) error {
	body, err := fetchStatus(ctx, e, args[0])
	if err != nil {
		return err
	}
	field, err := fieldFlag(cobraCmd)
	if err != nil {
		return err
	}
	if field != "" {
		_, err := fmt.Fprintln(e.Out(), gjson.GetBytes(body, field).String())
		return err
	}
	return writeSummary(e, args[0], body)
}

// writeSummary prints the status plus whichever result field is present.
func writeSummary(e *cmd.CommandExecutor, id string, body []byte) error {
	rows := [][]string{
		{"task", id},
		{"status", gjson.GetBytes(body, "status").String()},
	}
	for _, path := range []string{"result.error", "result.commit_url", "result.language"} {
		if v := gjson.GetBytes(body, path); v.Exists() {
			rows = append(rows, []string{path, v.String()})
		}
	}
	w := helpers.NewOutputWriter(e.Out(), helpers.OutputFormatTable)
	if err := w.WriteTable([]string{"FIELD", "VALUE"}, rows); err != nil {
		return err
	}
	if code := gjson.GetBytes(body, "result.code"); code.Exists() {
		_, err := fmt.Fprintf(e.Out(), "\n%s\n", code.String())
		return err
	}
	return nil
}

// NewWaitCommand attaches a poll loop to an existing task.
func NewWaitCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "wait <action> <task-id>",
		Short:     "Poll an existing task until it finishes and render its result",
		Args:      cobra.ExactArgs(2),
		ValidArgs: action.Names(),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireTracker: true}, cmd.ModeHandlers{
				JSON: func(ctx context.Context, _ *cobra.Command, e *cmd.CommandExecutor, args []string) error {
					h, err := e.Tracker().Track(ctx, action.Name(args[0]), task.ID(strings.TrimSpace(args[1])))
					if err != nil {
						return err
					}
					_, err = h.Wait(ctx)
					return err
				},
				TUI: func(ctx context.Context, _ *cobra.Command, e *cmd.CommandExecutor, args []string) error {
					h, err := e.Tracker().Track(ctx, action.Name(args[0]), task.ID(strings.TrimSpace(args[1])))
					if err != nil {
						return err
					}
					return actions.RunProgress(ctx, e, h)
				},
			}, args)
		},
	}
}
