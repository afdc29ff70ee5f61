package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	provider   string
	path       string
	addr       string
	prefix     string
	ttl        time.Duration
	logLevel   string
	logFormat  string
	markdown   bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "agentgraph",
		Short: "Inspect agent checkpoints and strategy definitions",
		Long: "agentgraph works against the checkpoint store an agent was configured with:\n" +
			"list and inspect checkpoints, delete them, purge expired ones, and validate\n" +
			"YAML strategy definitions before deploying them.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}

	f := root.PersistentFlags()
	f.StringVarP(&g.configPath, "config", "c", "", "agent config file (YAML or JSON); its persistence section selects the store")
	f.StringVar(&g.provider, "provider", "", "checkpoint provider: memory, sqlite, file or redis (overrides --config)")
	f.StringVar(&g.path, "path", "", "database file (sqlite) or directory (file)")
	f.StringVar(&g.addr, "addr", "", "redis address")
	f.StringVar(&g.prefix, "prefix", "", "redis key prefix")
	f.DurationVar(&g.ttl, "ttl", 0, "checkpoint retention used by cleanup (overrides --config)")
	f.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	f.BoolVar(&g.markdown, "markdown", false, "render tables as Markdown")

	root.AddCommand(newCheckpointsCmd(g), newValidateCmd(g))
	return root
}

// agentConfig loads --config, if given, and applies the flag overrides.
func (g *globalFlags) agentConfig() (config.AgentConfig, error) {
	cfg := config.DefaultAgentConfig()
	if g.configPath != "" {
		loaded, err := config.LoadAgent(g.configPath)
		if err != nil {
			return config.AgentConfig{}, err
		}
		cfg = loaded
	}
	if g.provider != "" {
		cfg.Persistence.Provider = g.provider
	}
	if g.path != "" {
		cfg.Persistence.Path = g.path
	}
	if g.addr != "" {
		cfg.Persistence.Addr = g.addr
	}
	if g.prefix != "" {
		cfg.Persistence.Prefix = g.prefix
	}
	if g.ttl > 0 {
		cfg.Persistence.TTL = g.ttl
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return cfg, nil
}

// openStore opens the configured provider. The caller closes it.
func (g *globalFlags) openStore(ctx context.Context, cmd *cobra.Command) (persistence.Provider, *slog.Logger, error) {
	cfg, err := g.agentConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if cfg.Persistence.Provider == config.ProviderNone {
		return nil, nil, fmt.Errorf("no checkpoint provider configured: use --provider or --config")
	}
	store, err := persistence.Open(ctx, cfg.Persistence, persistence.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Persistence.Provider, err)
	}
	logger.Debug("checkpoint store opened", "provider", cfg.Persistence.Provider)
	return store, logger, nil
}
