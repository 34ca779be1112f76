package helpers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// DefaultConfigFile is read from the working directory when --config is unset.
const DefaultConfigFile = "codeassist.yaml"

// AddGlobalFlags registers the persistent flags shared by every command.
// Only flags the user sets are layered over defaults, env and YAML.
func AddGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Path to a YAML config file (default ./"+DefaultConfigFile+" if present)")
	f.String("env-file", ".env", "Path to a .env file inside the working directory")
	f.String("base-url", "", "Code assistant API base URL")
	f.String("api-key", "", "API key sent as a bearer token")
	f.Duration("timeout", 0, "HTTP request timeout")
	f.String("format", "", "Output format: auto, json or tui")
	f.Bool("no-color", false, "Disable colored output")
	f.Bool("interactive", false, "Force interactive output")
	f.Duration("poll-interval", 0, "Delay before the first status check and between checks")
	f.Duration("poll-max-interval", 0, "Upper bound for exponential poll delays")
	f.String("poll-backoff", "", "Poll backoff: constant or exponential")
	f.Duration("poll-jitter", 0, "Random jitter added to each poll delay")
	f.Uint64("poll-max-attempts", 0, "Maximum status checks per task (0 for unlimited)")
	f.Duration("poll-max-duration", 0, "Maximum time spent polling one task (0 for unlimited)")
	f.String("supersede", "", "Overlapping submissions policy: cancel or discard")
	f.String("language", "", "Programming language sent with each request")
	f.String("output-dir", "", "Also write results into this directory")
	f.Bool("sanitize", true, "Strip markdown fences from code results")
	f.Bool("clipboard", false, "Copy the final result to the clipboard")
	f.String("log-level", "info", "Log level: debug, info, warn, error or disabled")
	f.Bool("log-json", false, "Write logs as JSON")
	f.Bool("log-source", false, "Include source locations in logs")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

// LoadEnvironmentFile loads --env-file into the process environment. A missing
// file is not an error; existing variables are not overridden.
func LoadEnvironmentFile(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile == "" {
		return nil
	}
	path, err := resolveEnvFile(envFile)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("env file path '%s' is not a regular file", envFile)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func resolveEnvFile(envFile string) (string, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(pwd, envFile)
	}
	absPath, err := filepath.Abs(filepath.Clean(envFile))
	if err != nil {
		return "", fmt.Errorf("failed to resolve env file path: %w", err)
	}
	if !isPathWithinDirectory(absPath, pwd) {
		return "", fmt.Errorf("env file path '%s' is outside the working directory", envFile)
	}
	return absPath, nil
}

func isPathWithinDirectory(path, dir string) bool {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ConfigFile returns the YAML path to load, or "" when none applies.
func ConfigFile(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", fmt.Errorf("failed to get config flag: %w", err)
	}
	if path != "" {
		return path, nil
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile, nil
	}
	return "", nil
}
