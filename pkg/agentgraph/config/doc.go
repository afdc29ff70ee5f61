/*
Package config provides type-safe configuration extraction from map[string]any
and decoding of agent configuration.

# Accessors

Config wraps a map[string]any and returns defaults for missing keys and type
mismatches. Keys may be dotted paths into nested maps:

	cfg := config.New(map[string]any{
	    "persistence": map[string]any{"ttl": "1h"},
	    "max_iterations": 20,
	})

	ttl := cfg.Duration("persistence.ttl", 0) // 1h
	n := cfg.Int("max_iterations", 50)         // 20

Durations accept strings parsed with time.ParseDuration or numbers of
seconds. Ints accept floats without a fractional part.

# Agent configuration

DecodeAgent decodes a Config onto DefaultAgentConfig with mapstructure and
validates it:

	cfg, err := config.FromFile("agent.yaml")
	if err != nil {
	    return err
	}
	agentCfg, err := config.DecodeAgent(cfg)

A typical file:

	max_iterations: 40
	tool_mode: parallel
	tool_timeout: 30s
	retry:
	  max_attempts: 3
	  initial_backoff: 500ms
	persistence:
	  provider: sqlite
	  path: ./checkpoints.db
	  ttl: 24h

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
