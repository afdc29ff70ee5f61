package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
)

func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.False(t, config.New(nil).Has("x"))
}

func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"name": "alice"}, "name", "default", "alice"},
		{"key missing", map[string]any{"other": "value"}, "name", "default", "default"},
		{"empty string", map[string]any{"name": ""}, "name", "default", ""},
		{"wrong type", map[string]any{"name": 123}, "name", "default", "default"},
		{"dotted path", map[string]any{"a": map[string]any{"b": "deep"}}, "a.b", "default", "deep"},
		{"literal dotted key wins", map[string]any{"a.b": "flat", "a": map[string]any{"b": "deep"}}, "a.b", "", "flat"},
		{"path through scalar", map[string]any{"a": "scalar"}, "a.b", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String(tt.key, tt.defaultVal))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"string", "30s", 30 * time.Second},
		{"int seconds", 5, 5 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", 2 * time.Minute, 2 * time.Minute},
		{"invalid string", "soon", time.Hour},
		{"wrong type", true, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("d", time.Hour))
		})
	}
}

func TestNumbersAndBool(t *testing.T) {
	cfg := config.New(map[string]any{
		"i":     3,
		"f":     4.0,
		"frac":  4.5,
		"i64":   int64(7),
		"flag":  true,
		"tags":  []any{"a", "b"},
		"mixed": []any{"a", 1},
	})

	assert.Equal(t, 3, cfg.Int("i", 0))
	assert.Equal(t, 4, cfg.Int("f", 0))
	assert.Equal(t, 9, cfg.Int("frac", 9))
	assert.Equal(t, 7, cfg.Int("i64", 0))
	assert.InDelta(t, 3.0, cfg.Float("i", 0), 0.0001)
	assert.True(t, cfg.Bool("flag", false))
	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("tags", nil))
	assert.Equal(t, []string{"z"}, cfg.StringSlice("mixed", []string{"z"}))
	assert.Equal(t, "fallback", cfg.Any("missing", "fallback"))
}

func TestSub(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
persistence:
  provider: redis
  addr: localhost:6379
`))
	require.NoError(t, err)

	sub := cfg.Sub("persistence")
	assert.Equal(t, "redis", sub.String("provider", ""))
	assert.False(t, cfg.Sub("missing").Has("provider"))
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "agent.YAML")
	jsonPath := filepath.Join(dir, "agent.json")
	txtPath := filepath.Join(dir, "agent.txt")
	require.NoError(t, os.WriteFile(yamlPath, []byte("name: fromyaml\nvalue: 123"), 0o644))
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name": "fromjson", "value": 789}`), 0o644))
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "fromyaml", cfg.String("name", ""))
	assert.Equal(t, 123, cfg.Int("value", 0))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 789, cfg.Int("value", 0))

	_, err = config.FromFile(txtPath)
	assert.ErrorIs(t, err, config.ErrUnsupportedFormat)
	assert.ErrorContains(t, err, "agent.txt")

	_, err = config.FromFile(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, config.ErrUnsupportedFormat, "extension is checked before reading")

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	brokenPath := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(brokenPath, []byte(`{"name":`), 0o644))
	_, err = config.FromFile(brokenPath)
	assert.ErrorContains(t, err, "broken.json: parse json")

	emptyPath := filepath.Join(dir, "empty.yml")
	require.NoError(t, os.WriteFile(emptyPath, nil, 0o644))
	cfg, err = config.FromFile(emptyPath)
	require.NoError(t, err)
	assert.False(t, cfg.Has("name"))

	_, err = config.FromYAML([]byte("invalid: yaml: content:"))
	assert.Error(t, err)
}

func TestDecodeAgent(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
max_iterations: 12
tool_mode: single_run_sequential
tool_timeout: 5
llm_timeout: 30s
max_tool_concurrency: 4
retry:
  max_attempts: 3
  initial_backoff: 250ms
persistence:
  provider: sqlite
  path: /tmp/cp.db
  ttl: 1h
`))
	require.NoError(t, err)

	agent, err := config.DecodeAgent(cfg)
	require.NoError(t, err)

	assert.Equal(t, 12, agent.MaxIterations)
	assert.Equal(t, config.ToolModeSingleRunSequential, agent.ToolMode)
	assert.Equal(t, 5*time.Second, agent.ToolTimeout)
	assert.Equal(t, 30*time.Second, agent.LLMTimeout)
	assert.Equal(t, 4, agent.MaxToolConcurrency)
	assert.Equal(t, 3, agent.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, agent.Retry.InitialBackoff)
	assert.Equal(t, config.ProviderSQLite, agent.Persistence.Provider)
	assert.Equal(t, time.Hour, agent.Persistence.TTL)
	assert.True(t, agent.Persistence.Automatic, "default kept when key absent")
	assert.Equal(t, "__finish__", agent.FinishTool)
}

func TestDecodeAgent_Defaults(t *testing.T) {
	agent, err := config.DecodeAgent(config.New(nil))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAgentConfig().MaxIterations, agent.MaxIterations)
	assert.Equal(t, config.ToolModeParallel, agent.ToolMode)
}

func TestDecodeAgent_Errors(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"unknown key", map[string]any{"max_iteration": 3}, "max_iteration"},
		{"bad mode", map[string]any{"tool_mode": "random"}, "unknown tool_mode"},
		{"zero iterations", map[string]any{"max_iterations": 0}, "max_iterations must be positive"},
		{"sqlite without path", map[string]any{"persistence": map[string]any{"provider": "sqlite"}}, "requires path"},
		{"redis without addr", map[string]any{"persistence": map[string]any{"provider": "redis"}}, "requires addr"},
		{"unknown provider", map[string]any{"persistence": map[string]any{"provider": "s3"}}, "unknown persistence provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.DecodeAgent(config.New(tt.data))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_iterations": 7, "persistence": {"provider": "memory", "ttl": 60}}`), 0o644))

	agent, err := config.LoadAgent(path)
	require.NoError(t, err)
	assert.Equal(t, 7, agent.MaxIterations)
	assert.Equal(t, time.Minute, agent.Persistence.TTL)
}
