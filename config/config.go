// Package config loads runtime defaults for the engine: default iteration
// caps, tool timeouts, fan-out limits, and provider credentials. Values come
// from a YAML file with environment-variable overrides, the same
// viper-over-YAML shape the pack's infra/config package uses for service
// configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProviderCredentials holds the API key / region pair needed to construct a
// model.Adapter for one provider.
type ProviderCredentials struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Region string `mapstructure:"region" yaml:"region"`
}

// Defaults holds the runtime settings loaded from YAML and the environment.
// flowctl applies ToolFanOut to the runs it starts; MaxIterations and
// ToolTimeout are loaded and validated but not read by the supervisor, which
// uses each Runnable's and Tool's own defaults.
type Defaults struct {
	// MaxIterations bounds an agent loop's model/tool round trips.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	// ToolFanOut bounds how many tool calls within one model step run
	// concurrently.
	ToolFanOut int `mapstructure:"tool_fan_out" yaml:"tool_fan_out"`
	// DefaultProvider names the provider used when a Runnable doesn't
	// specify model.Config.Provider.
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// Providers maps a provider name ("anthropic", "openai", "bedrock")
	// to its credentials.
	Providers map[string]ProviderCredentials `mapstructure:"providers" yaml:"providers"`
}

// defaultValues seeds viper before any file or environment override is
// applied, so a missing config file still yields a usable Defaults.
var defaultValues = map[string]any{
	"max_iterations":   25,
	"tool_timeout":     "30s",
	"tool_fan_out":     4,
	"default_provider": "anthropic",
}

// Load reads Defaults from the YAML file at path, if it exists, then applies
// environment overrides prefixed FLOW_ (e.g. FLOW_MAX_ITERATIONS,
// FLOW_PROVIDERS_ANTHROPIC_API_KEY). An empty path skips the file and
// returns built-in defaults plus any environment overrides.
func Load(path string) (Defaults, error) {
	v := viper.New()
	for key, val := range defaultValues {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("FLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, p := range []string{"anthropic", "openai", "bedrock"} {
		_ = v.BindEnv("providers." + p + ".api_key")
		_ = v.BindEnv("providers." + p + ".region")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Defaults{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var d Defaults
	if err := v.Unmarshal(&d); err != nil {
		return Defaults{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := d.validate(); err != nil {
		return Defaults{}, err
	}
	return d, nil
}

func (d Defaults) validate() error {
	if d.MaxIterations <= 0 {
		return fmt.Errorf("config: max_iterations must be positive, got %d", d.MaxIterations)
	}
	if d.ToolFanOut <= 0 {
		return fmt.Errorf("config: tool_fan_out must be positive, got %d", d.ToolFanOut)
	}
	if d.ToolTimeout <= 0 {
		return fmt.Errorf("config: tool_timeout must be positive, got %s", d.ToolTimeout)
	}
	return nil
}

// WriteYAML writes d to path as YAML, for seeding a starter config file a
// deployment can then hand-edit (flowctl's "config init" uses this).
func (d Defaults) WriteYAML(path string) error {
	out, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Credentials looks up the credentials for the named provider, falling back
// to DefaultProvider when name is empty.
func (d Defaults) Credentials(name string) (ProviderCredentials, bool) {
	if name == "" {
		name = d.DefaultProvider
	}
	creds, ok := d.Providers[name]
	return creds, ok
}
