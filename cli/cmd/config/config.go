package config

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/compozy/codeassist/cli/cmd"
	"github.com/compozy/codeassist/cli/helpers"
	"github.com/compozy/codeassist/pkg/config"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command group
func NewConfigCommand() *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection",
	}
	cobraCmd.AddCommand(NewConfigShowCommand(), NewConfigValidateCommand())
	return cobraCmd
}

// NewConfigShowCommand creates the config show subcommand
func NewConfigShowCommand() *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Display the effective configuration after defaults, the YAML file,
environment variables and flags are applied. Secrets are redacted.`,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{}, cmd.ModeHandlers{
				JSON: handleShow,
				TUI:  handleShow,
			}, args)
		},
	}
	// --format is the global output mode flag, so this one is named --output.
	cobraCmd.Flags().StringP("output", "o", "table", "Output format (json, yaml, table)")
	cobraCmd.Flags().Bool("sources", false, "Show which source set each value")
	return cobraCmd
}

func handleShow(ctx context.Context, cobraCmd *cobra.Command, e *cmd.CommandExecutor, _ []string) error {
	logger.FromContext(ctx).Debug("executing config show command")
	format, err := cobraCmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	showSources, err := cobraCmd.Flags().GetBool("sources")
	if err != nil {
		return fmt.Errorf("failed to get sources flag: %w", err)
	}
	var sources map[string]config.SourceType
	if showSources {
		sources = collectSources(e.Config(), config.ServiceFromContext(ctx))
	}
	return formatConfigOutput(e.Out(), e.Config(), sources, helpers.OutputFormat(format))
}

// NewConfigValidateCommand creates the config validate subcommand
func NewConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{}, cmd.ModeHandlers{
				JSON: func(ctx context.Context, _ *cobra.Command, e *cmd.CommandExecutor, _ []string) error {
					valid, message := validate(ctx, e.Config())
					return helpers.NewOutputWriter(e.Out(), helpers.OutputFormatJSON).
						WriteData(map[string]any{"valid": valid, "message": message})
				},
				TUI: func(ctx context.Context, _ *cobra.Command, e *cmd.CommandExecutor, _ []string) error {
					if valid, message := validate(ctx, e.Config()); !valid {
						return helpers.NewCliError(helpers.CodeValidation, "Configuration is invalid", message)
					}
					_, err := fmt.Fprintln(e.Out(), "✅ Configuration is valid")
					return err
				},
			}, args)
		},
	}
}

func validate(ctx context.Context, cfg *config.Config) (bool, string) {
	svc := config.ServiceFromContext(ctx)
	if svc == nil {
		svc = config.NewService()
	}
	if err := svc.Validate(cfg); err != nil {
		return false, err.Error()
	}
	return true, "Configuration is valid"
}

func formatConfigOutput(
	w io.Writer,
	cfg *config.Config,
	sources map[string]config.SourceType,
	format helpers.OutputFormat,
) error {
	out := helpers.NewOutputWriter(w, format)
	switch format {
	case helpers.OutputFormatJSON, helpers.OutputFormatYAML:
		if sources == nil {
			return out.WriteData(cfg)
		}
		return out.WriteData(map[string]any{"config": cfg, "sources": sources, "env_vars": envVars(cfg)})
	case helpers.OutputFormatTable:
		return outputTable(out, cfg, sources)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func outputTable(out *helpers.OutputWriter, cfg *config.Config, sources map[string]config.SourceType) error {
	flat := flattenConfig(cfg)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headers := []string{"KEY", "VALUE"}
	if sources != nil {
		headers = append(headers, "SOURCE", "ENV")
	}
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		row := []string{k, flat[k]}
		if sources != nil {
			row = append(row, string(sources[k]), config.GetEnvVarForConfigPath(k))
		}
		rows = append(rows, row)
	}
	return out.WriteTable(headers, rows)
}

// flattenConfig walks koanf tags into dotted keys. Values at sensitive paths
// are redacted.
func flattenConfig(cfg *config.Config) map[string]string {
	result := make(map[string]string)
	if cfg == nil {
		return result
	}
	flattenValue(reflect.ValueOf(*cfg), "", result)
	return result
}

func flattenValue(v reflect.Value, prefix string, result map[string]string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("koanf"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := v.Field(i)
		if config.IsSensitiveConfigPath(key) {
			result[key] = config.SensitiveString(fmt.Sprint(fv.Interface())).String()
			continue
		}
		if fv.Kind() == reflect.Struct {
			flattenValue(fv, key, result)
			continue
		}
		if s, ok := fv.Interface().(fmt.Stringer); ok {
			result[key] = s.String()
			continue
		}
		result[key] = fmt.Sprintf("%v", fv.Interface())
	}
}

func collectSources(cfg *config.Config, svc config.Service) map[string]config.SourceType {
	sources := make(map[string]config.SourceType)
	for key := range flattenConfig(cfg) {
		source := config.SourceDefault
		if svc != nil {
			if s := svc.GetSource(key); s != "" {
				source = s
			}
		}
		sources[key] = source
	}
	return sources
}

// envVars maps every key that can be set from the environment to its variable.
func envVars(cfg *config.Config) map[string]string {
	vars := make(map[string]string)
	for key := range flattenConfig(cfg) {
		if name := config.GetEnvVarForConfigPath(key); name != "" {
			vars[key] = name
		}
	}
	return vars
}
