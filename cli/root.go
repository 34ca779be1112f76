package cli

import (
	"github.com/compozy/codeassist/cli/cmd"
	"github.com/compozy/codeassist/cli/cmd/actions"
	configcmd "github.com/compozy/codeassist/cli/cmd/config"
	"github.com/compozy/codeassist/cli/cmd/session"
	"github.com/compozy/codeassist/cli/cmd/tasks"
	"github.com/compozy/codeassist/cli/helpers"
	"github.com/compozy/codeassist/pkg/config"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "codeassist",
		Short: "Submit code tasks to the code assistant and follow them to completion",
		Long: `codeassist submits generate, debug, optimize, document and publish
requests to the code assistant API, polls each task until it finishes, and
renders the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cobraCmd *cobra.Command, _ []string) error {
			if err := SetupGlobalConfig(cobraCmd); err != nil {
				return cmd.HandleCommonErrors(cobraCmd, err, helpers.DetectModeFromConfig(config.Default()))
			}
			return nil
		},
	}
	helpers.AddGlobalFlags(root)
	root.AddCommand(actions.NewCommands()...)
	root.AddCommand(
		tasks.NewTaskCommand(),
		session.NewSessionCommand(),
		configcmd.NewConfigCommand(),
	)
	return root
}

// SetupGlobalConfig loads the .env file and configuration, then attaches the
// config, its service and the logger to the command context.
// Precedence: defaults < YAML < environment < flags.
func SetupGlobalConfig(cobraCmd *cobra.Command) error {
	ctx := cobraCmd.Context()
	if err := helpers.LoadEnvironmentFile(cobraCmd); err != nil {
		return helpers.NewCliError(helpers.CodeInvalidInput, "Failed to load environment file", err.Error())
	}
	path, err := helpers.ConfigFile(cobraCmd)
	if err != nil {
		return err
	}
	svc := config.NewService()
	cfg, err := svc.Load(ctx, config.NewYAMLProvider(path), config.NewFlagSetProvider(cobraCmd.Flags()))
	if err != nil {
		return helpers.NewCliError(helpers.CodeValidation, "Invalid configuration", err.Error())
	}
	_, _, logSource, err := logger.GetLoggerConfig(cobraCmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(cobraCmd.ErrOrStderr(), cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, logSource)
	log.Debug("configuration loaded", "config_file", path, "base_url", cfg.CLI.BaseURL)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithConfig(ctx, cfg)
	ctx = config.ContextWithService(ctx, svc)
	cobraCmd.SetContext(ctx)
	return nil
}
