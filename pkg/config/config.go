package config

import (
	"context"
	"time"
)

// Config is the complete codeassist client configuration.
type Config struct {
	CLI     CLIConfig     `koanf:"cli" json:"cli" yaml:"cli"`
	Poll    PollConfig    `koanf:"poll" json:"poll" yaml:"poll"`
	Actions ActionsConfig `koanf:"actions" json:"actions" yaml:"actions"`
	Output  OutputConfig  `koanf:"output" json:"output" yaml:"output"`
	Runtime RuntimeConfig `koanf:"runtime" json:"runtime" yaml:"runtime"`
}

// CLIConfig contains the backend connection and presentation settings.
type CLIConfig struct {
	BaseURL     string          `koanf:"base_url" json:"base_url" yaml:"base_url" env:"CODEASSIST_BASE_URL" validate:"required,url"`
	APIKey      SensitiveString `koanf:"api_key" json:"api_key" yaml:"api_key" env:"CODEASSIST_API_KEY" sensitive:"true"`
	Timeout     time.Duration   `koanf:"timeout" json:"timeout" yaml:"timeout" env:"CODEASSIST_TIMEOUT"`
	Format      string          `koanf:"format" json:"format" yaml:"format" env:"CODEASSIST_FORMAT" validate:"oneof=auto json tui"`
	NoColor     bool            `koanf:"no_color" json:"no_color" yaml:"no_color" env:"CODEASSIST_NO_COLOR"`
	Interactive bool            `koanf:"interactive" json:"interactive" yaml:"interactive" env:"CODEASSIST_INTERACTIVE"`
}

// PollConfig bounds and paces the task status loop.
type PollConfig struct {
	Interval    time.Duration `koanf:"interval" json:"interval" yaml:"interval" env:"CODEASSIST_POLL_INTERVAL"`
	MaxInterval time.Duration `koanf:"max_interval" json:"max_interval" yaml:"max_interval" env:"CODEASSIST_POLL_MAX_INTERVAL"`
	Backoff     string        `koanf:"backoff" json:"backoff" yaml:"backoff" env:"CODEASSIST_POLL_BACKOFF" validate:"oneof=constant exponential"`
	Jitter      time.Duration `koanf:"jitter" json:"jitter" yaml:"jitter" env:"CODEASSIST_POLL_JITTER"`
	MaxAttempts uint64        `koanf:"max_attempts" json:"max_attempts" yaml:"max_attempts" env:"CODEASSIST_POLL_MAX_ATTEMPTS"`
	MaxDuration time.Duration `koanf:"max_duration" json:"max_duration" yaml:"max_duration" env:"CODEASSIST_POLL_MAX_DURATION"`
	Supersede   string        `koanf:"supersede" json:"supersede" yaml:"supersede" env:"CODEASSIST_POLL_SUPERSEDE" validate:"oneof=cancel discard"`
}

// ActionsConfig holds the fixed request parameters sent with each action.
type ActionsConfig struct {
	Language           string `koanf:"language" json:"language" yaml:"language" env:"CODEASSIST_LANGUAGE" validate:"required"`
	OptimizationTarget string `koanf:"optimization_target" json:"optimization_target" yaml:"optimization_target" env:"CODEASSIST_OPTIMIZATION_TARGET" validate:"oneof=performance memory readability"`
	DocumentationStyle string `koanf:"documentation_style" json:"documentation_style" yaml:"documentation_style" env:"CODEASSIST_DOCUMENTATION_STYLE" validate:"oneof=standard javadoc docstring"`
	GenerateDebug      bool   `koanf:"generate_debug" json:"generate_debug" yaml:"generate_debug" env:"CODEASSIST_GENERATE_DEBUG"`
	GenerateOptimize   bool   `koanf:"generate_optimize" json:"generate_optimize" yaml:"generate_optimize" env:"CODEASSIST_GENERATE_OPTIMIZE"`
	GenerateDocument   bool   `koanf:"generate_document" json:"generate_document" yaml:"generate_document" env:"CODEASSIST_GENERATE_DOCUMENT"`
	PublishBranch      string `koanf:"publish_branch" json:"publish_branch" yaml:"publish_branch" env:"CODEASSIST_PUBLISH_BRANCH" validate:"required"`
}

// OutputConfig controls where rendered results go.
type OutputConfig struct {
	Dir       string `koanf:"dir" json:"dir" yaml:"dir" env:"CODEASSIST_OUTPUT_DIR"`
	Sanitize  bool   `koanf:"sanitize" json:"sanitize" yaml:"sanitize" env:"CODEASSIST_OUTPUT_SANITIZE"`
	Clipboard bool   `koanf:"clipboard" json:"clipboard" yaml:"clipboard" env:"CODEASSIST_OUTPUT_CLIPBOARD"`
}

// RuntimeConfig contains process level settings.
type RuntimeConfig struct {
	LogLevel    string `koanf:"log_level" json:"log_level" yaml:"log_level" env:"CODEASSIST_LOG_LEVEL" validate:"oneof=debug info warn error disabled"`
	LogJSON     bool   `koanf:"log_json" json:"log_json" yaml:"log_json" env:"CODEASSIST_LOG_JSON"`
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr" yaml:"metrics_addr" env:"CODEASSIST_METRICS_ADDR"`
}

// Service loads and validates configuration.
type Service interface {
	Load(ctx context.Context, sources ...Source) (*Config, error)
	Validate(config *Config) error
	// GetSource reports which source provided a key (env, CLI, YAML, default).
	GetSource(key string) SourceType
}

// Source is one layer of configuration values.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Load loads defaults plus environment using a fresh service.
func Load() (*Config, error) {
	return NewService().Load(context.Background())
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CLI: CLIConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 30 * time.Second,
			Format:  "auto",
		},
		Poll: PollConfig{
			Interval:    2 * time.Second,
			MaxInterval: 16 * time.Second,
			Backoff:     "exponential",
			MaxDuration: 10 * time.Minute,
			Supersede:   "cancel",
		},
		Actions: ActionsConfig{
			Language:           "python",
			OptimizationTarget: "performance",
			DocumentationStyle: "standard",
			GenerateDebug:      true,
			GenerateOptimize:   true,
			GenerateDocument:   true,
			PublishBranch:      "main",
		},
		Output: OutputConfig{
			Sanitize: true,
		},
		Runtime: RuntimeConfig{
			LogLevel: "info",
		},
	}
}
