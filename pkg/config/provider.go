package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// FlagPaths maps CLI flag names to config paths.
var FlagPaths = map[string]string{
	"base-url":            "cli.base_url",
	"api-key":             "cli.api_key",
	"timeout":             "cli.timeout",
	"format":              "cli.format",
	"no-color":            "cli.no_color",
	"interactive":         "cli.interactive",
	"poll-interval":       "poll.interval",
	"poll-max-interval":   "poll.max_interval",
	"poll-backoff":        "poll.backoff",
	"poll-jitter":         "poll.jitter",
	"poll-max-attempts":   "poll.max_attempts",
	"poll-max-duration":   "poll.max_duration",
	"supersede":           "poll.supersede",
	"language":            "actions.language",
	"optimization-target": "actions.optimization_target",
	"documentation-style": "actions.documentation_style",
	"branch":              "actions.publish_branch",
	"output-dir":          "output.dir",
	"sanitize":            "output.sanitize",
	"clipboard":           "output.clipboard",
	"log-level":           "runtime.log_level",
	"log-json":            "runtime.log_json",
	"metrics-addr":        "runtime.metrics_addr",
}

type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider creates a source from flag name/value pairs.
// Unknown flag names are ignored.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

// NewFlagSetProvider collects every flag the user explicitly set.
func NewFlagSetProvider(fs *pflag.FlagSet) Source {
	flags := make(map[string]any)
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			flags[f.Name] = f.Value.String()
		})
	}
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	config := make(map[string]any)
	for key, value := range c.flags {
		path, ok := FlagPaths[key]
		if !ok {
			continue
		}
		if err := setNested(config, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", key, err)
		}
	}
	return config, nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

type yamlProvider struct {
	path string
}

// NewYAMLProvider reads a YAML config file. A missing file yields no values.
func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	if y.path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(y.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", y.path, err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", y.path, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (y *yamlProvider) Type() SourceType {
	return SourceYAML
}
