package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/compozy/codeassist/cli/api"
	"github.com/compozy/codeassist/cli/helpers"
	"github.com/compozy/codeassist/cli/tui/models"
	"github.com/compozy/codeassist/engine/infra/monitoring"
	"github.com/compozy/codeassist/engine/output"
	"github.com/compozy/codeassist/engine/tracker"
	"github.com/compozy/codeassist/pkg/config"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/spf13/cobra"
)

// CommandExecutor handles common setup and execution patterns for CLI commands:
// client creation, output sinks, the tracker, and error handling.
type CommandExecutor struct {
	mode       models.Mode
	cfg        *config.Config
	out        io.Writer
	errOut     io.Writer
	client     *api.Client
	monitoring *monitoring.Service
	tracker    *tracker.Tracker
}

// HandlerFunc defines the signature for command handlers.
type HandlerFunc func(ctx context.Context, cmd *cobra.Command, executor *CommandExecutor, args []string) error

// ModeHandlers contains handlers for different execution modes.
type ModeHandlers struct {
	JSON HandlerFunc
	TUI  HandlerFunc
}

// ExecutorOptions allows customization of the command executor
type ExecutorOptions struct {
	// RequireClient builds the task API client.
	RequireClient bool
	// RequireTracker builds the client, the output board and the tracker.
	RequireTracker bool
	// StreamOutput renders every delivery as it lands, even in TUI mode.
	StreamOutput bool
	// ClientOptions are extra options for the API client.
	ClientOptions []api.Option
}

// NewCommandExecutor creates a new command executor with all necessary setup.
func NewCommandExecutor(cmd *cobra.Command, opts ExecutorOptions) (*CommandExecutor, error) {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("configuration not found in context")
	}
	mode := helpers.DetectMode(cmd)
	log.Debug("detected execution mode", "mode", mode)
	e := &CommandExecutor{
		mode:   mode,
		cfg:    cfg,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
	if !opts.RequireClient && !opts.RequireTracker {
		return e, nil
	}
	clientOpts := append([]api.Option{api.WithLogger(log)}, opts.ClientOptions...)
	client, err := api.NewClient(cfg, clientOpts...)
	if err != nil {
		return nil, helpers.NewCliError(helpers.CodeInvalidInput, "Invalid API configuration", err.Error())
	}
	e.client = client
	if !opts.RequireTracker {
		return e, nil
	}
	e.monitoring = monitoring.NewMonitoringServiceWithFallback(ctx, monitoring.FromAddr(cfg.Runtime.MetricsAddr))
	if err := e.monitoring.Start(ctx); err != nil {
		log.Warn("Metrics endpoint unavailable", "error", err)
	}
	sink, err := e.buildSink(cmd, opts.StreamOutput)
	if err != nil {
		return nil, err
	}
	trackerOpts := tracker.OptionsFromConfig(cfg)
	trackerOpts.Metrics = e.monitoring.Metrics()
	e.tracker = tracker.New(client, output.NewBoard(sink), trackerOpts)
	return e, nil
}

// buildSink picks the renderer for the mode. The progress view renders
// results itself, so TUI runs collect them in memory unless streaming.
func (e *CommandExecutor) buildSink(cmd *cobra.Command, stream bool) (output.Sink, error) {
	var primary output.Sink
	switch {
	case e.mode == models.ModeJSON:
		primary = output.NewJSONSink(e.out)
	case stream:
		primary = output.NewTerminalSink(e.out, e.errOut, !helpers.ShouldUseColor(cmd))
	default:
		primary = output.NewMemorySink()
	}
	if e.cfg.Output.Dir == "" {
		return primary, nil
	}
	files, err := output.NewFileSink(e.cfg.Output.Dir)
	if err != nil {
		return nil, helpers.NewCliError(helpers.CodeInvalidInput, "Cannot use output directory", err.Error())
	}
	return output.MultiSink{primary, files}, nil
}

// Execute runs the appropriate handler based on the detected mode and stops
// every poll loop before returning.
func (e *CommandExecutor) Execute(ctx context.Context, cmd *cobra.Command, handlers ModeHandlers, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		closeCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer stop()
		e.Close(closeCtx)
	}()
	switch e.mode {
	case models.ModeJSON:
		if handlers.JSON == nil {
			return fmt.Errorf("JSON mode handler not implemented")
		}
		return handlers.JSON(ctx, cmd, e, args)
	case models.ModeTUI:
		if handlers.TUI == nil {
			return fmt.Errorf("TUI mode handler not implemented")
		}
		return handlers.TUI(ctx, cmd, e, args)
	default:
		return fmt.Errorf("unsupported mode: %s", e.mode)
	}
}

// shutdownTimeout bounds how long Close waits for poll loops and the metrics
// endpoint.
const shutdownTimeout = 5 * time.Second

// Close cancels running loops and stops the metrics endpoint.
func (e *CommandExecutor) Close(ctx context.Context) {
	log := logger.FromContext(ctx)
	if e.tracker != nil {
		if err := e.tracker.Shutdown(ctx); err != nil {
			log.Warn("Poll loops did not stop cleanly", "error", err)
		}
	}
	if e.monitoring != nil {
		if err := e.monitoring.Shutdown(ctx); err != nil {
			log.Warn("Metrics endpoint did not stop cleanly", "error", err)
		}
	}
}

// GetMode returns the detected execution mode.
func (e *CommandExecutor) GetMode() models.Mode {
	return e.mode
}

// Config returns the loaded configuration.
func (e *CommandExecutor) Config() *config.Config {
	return e.cfg
}

// Client returns the task API client, nil unless requested.
func (e *CommandExecutor) Client() *api.Client {
	return e.client
}

// Tracker returns the tracker, nil unless requested.
func (e *CommandExecutor) Tracker() *tracker.Tracker {
	return e.tracker
}

// Out is where command results are written.
func (e *CommandExecutor) Out() io.Writer {
	return e.out
}

// ExecuteCommand is a convenience function that combines executor creation and execution.
func ExecuteCommand(cmd *cobra.Command, opts ExecutorOptions, handlers ModeHandlers, args []string) error {
	executor, err := NewCommandExecutor(cmd, opts)
	if err != nil {
		return HandleCommonErrors(cmd, err, helpers.DetectMode(cmd))
	}
	return HandleCommonErrors(cmd, executor.Execute(cmd.Context(), cmd, handlers, args), executor.GetMode())
}

// HandleCommonErrors reports err once in the mode's format and returns it as
// a CliError so the process exits non-zero.
func HandleCommonErrors(cmd *cobra.Command, err error, mode models.Mode) error {
	if err == nil {
		return nil
	}
	cliErr := helpers.Classify(err)
	w := io.Writer(os.Stderr)
	if cmd != nil {
		w = cmd.ErrOrStderr()
	}
	helpers.OutputErrorTo(w, cliErr, mode)
	return cliErr
}

// IgnoreCanceled treats a user interrupt as a clean exit.
func IgnoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
