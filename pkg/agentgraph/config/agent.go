package config

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// Tool execution modes accepted in AgentConfig.ToolMode.
const (
	ToolModeSequential          = "sequential"
	ToolModeParallel            = "parallel"
	ToolModeSingleRunSequential = "single_run_sequential"
)

// Persistence provider names accepted in Persistence.Provider.
const (
	ProviderNone   = ""
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
	ProviderRedis  = "redis"
	ProviderFile   = "file"
)

// AgentConfig is the declarative configuration of an agent.
type AgentConfig struct {
	MaxIterations      int                  `mapstructure:"max_iterations"`
	ToolMode           string               `mapstructure:"tool_mode"`
	ToolTimeout        time.Duration        `mapstructure:"tool_timeout"`
	LLMTimeout         time.Duration        `mapstructure:"llm_timeout"`
	MaxToolConcurrency int                  `mapstructure:"max_tool_concurrency"`
	FinishTool         string               `mapstructure:"finish_tool"`
	Retry              agerrors.RetryConfig `mapstructure:"retry"`
	Persistence        Persistence          `mapstructure:"persistence"`
	Log                Log                  `mapstructure:"log"`
}

// Persistence selects and tunes the checkpoint provider.
type Persistence struct {
	Provider        string        `mapstructure:"provider"`
	Path            string        `mapstructure:"path"`
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	Prefix          string        `mapstructure:"prefix"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// Automatic enables a checkpoint after every node and a tombstone at
	// the end of a run.
	Automatic bool `mapstructure:"automatic"`
}

// Log configures the agent's slog handler.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultAgentConfig returns the configuration used for missing keys.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxIterations: 50,
		ToolMode:      ToolModeParallel,
		FinishTool:    "__finish__",
		Retry:         agerrors.NoRetry,
		Persistence:   Persistence{Automatic: true},
		Log:           Log{Level: "info", Format: "text"},
	}
}

// DecodeAgent decodes c onto DefaultAgentConfig and validates the result.
// Durations may be strings ("30s") or numbers of seconds. Unknown keys are
// an error.
func DecodeAgent(c Config) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return AgentConfig{}, fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(c.Raw()); err != nil {
		return AgentConfig{}, fmt.Errorf("decode agent config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// LoadAgent reads a YAML or JSON file and decodes it with DecodeAgent.
func LoadAgent(path string) (AgentConfig, error) {
	c, err := FromFile(path)
	if err != nil {
		return AgentConfig{}, err
	}
	return DecodeAgent(c)
}

// Validate checks field values. All problems are reported together.
func (a AgentConfig) Validate() error {
	var errs []error
	if a.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", a.MaxIterations))
	}
	switch a.ToolMode {
	case ToolModeSequential, ToolModeParallel, ToolModeSingleRunSequential:
	default:
		errs = append(errs, fmt.Errorf("unknown tool_mode %q", a.ToolMode))
	}
	if a.MaxToolConcurrency < 0 {
		errs = append(errs, fmt.Errorf("max_tool_concurrency must not be negative"))
	}
	if err := a.Persistence.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks that the provider has what it needs.
func (p Persistence) Validate() error {
	switch p.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderSQLite, ProviderFile:
		if p.Path == "" {
			return fmt.Errorf("persistence provider %q requires path", p.Provider)
		}
	case ProviderRedis:
		if p.Addr == "" {
			return fmt.Errorf("persistence provider %q requires addr", p.Provider)
		}
	default:
		return fmt.Errorf("unknown persistence provider %q", p.Provider)
	}
	if p.TTL < 0 || p.CleanupInterval < 0 {
		return fmt.Errorf("persistence ttl and cleanup_interval must not be negative")
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook treats bare numbers as seconds, matching
// Config.Duration.
func secondsToDurationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}
