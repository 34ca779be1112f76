package helpers

import (
	"os"

	"github.com/compozy/codeassist/cli/tui/models"
	"github.com/compozy/codeassist/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var ciVars = []string{
	"CI",
	"JENKINS_HOME",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"CIRCLECI",
	"TRAVIS",
	"BUILDKITE",
	"DRONE",
	"TF_BUILD",
	"CODEBUILD_BUILD_ID",
	"TEAMCITY_VERSION",
	"CONTINUOUS_INTEGRATION",
}

func isRunningInCI() bool {
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func dumbTerminal() bool {
	term := os.Getenv("TERM")
	return term == "" || term == "dumb"
}

// explicitMode returns the mode forced by cli.format, if any.
func explicitMode(cfg *config.Config) (models.Mode, bool) {
	switch OutputFormat(cfg.CLI.Format) {
	case OutputFormatJSON:
		return models.ModeJSON, true
	case OutputFormatTUI:
		return models.ModeTUI, true
	default:
		return models.ModeJSON, false
	}
}

func isInteractiveEnvironment(cfg *config.Config) bool {
	if cfg.CLI.Interactive {
		return true
	}
	if isRunningInCI() {
		return false
	}
	if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return !dumbTerminal()
}

// DetectModeFromConfig picks tui or json output for cfg.
func DetectModeFromConfig(cfg *config.Config) models.Mode {
	if cfg == nil {
		return models.ModeJSON
	}
	if mode, ok := explicitMode(cfg); ok {
		return mode
	}
	if isInteractiveEnvironment(cfg) {
		return models.ModeTUI
	}
	return models.ModeJSON
}

// DetectMode reads the config attached to the command context.
func DetectMode(cmd *cobra.Command) models.Mode {
	return DetectModeFromConfig(config.FromContext(cmd.Context()))
}

// ShouldUseColor determines if colored output should be used
func ShouldUseColor(cmd *cobra.Command) bool {
	cfg := config.FromContext(cmd.Context())
	if cfg != nil && cfg.CLI.NoColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !isTerminal(os.Stdout) || isRunningInCI() {
		return false
	}
	return !dumbTerminal()
}
