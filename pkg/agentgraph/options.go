package agentgraph

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tools"
)

// DefaultMaxIterations is the node entry limit of a run.
const DefaultMaxIterations = 50

// agentConfig holds everything NewAgent is configured with.
type agentConfig struct {
	id     string
	logger *slog.Logger

	executor prompt.Executor
	model    prompt.Model
	params   prompt.Params
	promptID string
	history  []prompt.Message
	llm      agerrors.Policy

	tools       []tools.Tool
	toolMode    tools.Mode
	toolPolicy  agerrors.Policy
	concurrency int
	finishTool  string

	maxIterations int

	provider               persistence.Provider
	persistence            *config.Persistence
	automatic              bool
	checkpointFailureFatal bool

	features []pipeline.Feature

	errs []error
}

func defaultAgentConfig() agentConfig {
	return agentConfig{
		logger:        slog.Default(),
		llm:           agerrors.Policy{Retry: agerrors.NoRetry},
		toolMode:      tools.Parallel,
		toolPolicy:    agerrors.Policy{Retry: agerrors.NoRetry},
		finishTool:    tools.DefaultFinishTool,
		maxIterations: DefaultMaxIterations,
		automatic:     true,
	}
}

// Option configures an Agent.
type Option func(*agentConfig)

// WithAgentID sets the id checkpoints are stored under. Agents sharing a
// provider are isolated by id. Default: a random UUID, which means a new
// agent never resumes; set a stable id to recover after a crash.
func WithAgentID(id string) Option {
	return func(c *agentConfig) { c.id = id }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *agentConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithExecutor sets the prompt executor LLM nodes call.
func WithExecutor(e prompt.Executor) Option {
	return func(c *agentConfig) { c.executor = e }
}

// WithModel sets the model LLM requests are sent to.
func WithModel(m prompt.Model) Option {
	return func(c *agentConfig) { c.model = m }
}

// WithParams sets sampling parameters.
func WithParams(p prompt.Params) Option {
	return func(c *agentConfig) { c.params = p }
}

// WithPromptID sets the prompt id sent with every request.
func WithPromptID(id string) Option {
	return func(c *agentConfig) { c.promptID = id }
}

// WithHistory seeds the prompt history of a fresh run. A resumed run uses
// the checkpointed history instead.
func WithHistory(msgs ...prompt.Message) Option {
	return func(c *agentConfig) { c.history = append(c.history, msgs...) }
}

// WithLLMPolicy sets the per-request timeout and retry policy.
func WithLLMPolicy(p agerrors.Policy) Option {
	return func(c *agentConfig) { c.llm = p }
}

// WithTools registers tools with the agent's coordinator.
func WithTools(ts ...tools.Tool) Option {
	return func(c *agentConfig) { c.tools = append(c.tools, ts...) }
}

// WithToolMode sets how ExecuteTools runs a batch. Default: tools.Parallel.
func WithToolMode(m tools.Mode) Option {
	return func(c *agentConfig) { c.toolMode = m }
}

// WithToolPolicy sets the per-call timeout and retry policy for tools.
func WithToolPolicy(p agerrors.Policy) Option {
	return func(c *agentConfig) { c.toolPolicy = p }
}

// WithMaxToolConcurrency bounds parallel tool calls. Zero means unbounded.
func WithMaxToolConcurrency(n int) Option {
	return func(c *agentConfig) {
		if n >= 0 {
			c.concurrency = n
		}
	}
}

// WithFinishTool sets the name of the tool that ends the run. An empty
// name disables it.
func WithFinishTool(name string) Option {
	return func(c *agentConfig) { c.finishTool = name }
}

// WithMaxIterations sets the maximum number of node entries per run,
// subgraph nodes included. Default: 50.
func WithMaxIterations(n int) Option {
	return func(c *agentConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithPersistence sets the checkpoint provider. The caller keeps
// ownership; the agent does not close it.
func WithPersistence(p persistence.Provider) Option {
	return func(c *agentConfig) { c.provider = p }
}

// WithAutomaticPersistence toggles the checkpoint after every node and the
// tombstone at the end of a run. Default: true.
func WithAutomaticPersistence(enabled bool) Option {
	return func(c *agentConfig) { c.automatic = enabled }
}

// WithCheckpointFailureFatal makes a failed checkpoint save fail the run.
// By default the failure is logged and reported through the
// checkpoint.failed hook.
func WithCheckpointFailureFatal() Option {
	return func(c *agentConfig) { c.checkpointFailureFatal = true }
}

// WithFeatures installs features on the agent's pipeline in order.
func WithFeatures(fs ...pipeline.Feature) Option {
	return func(c *agentConfig) { c.features = append(c.features, fs...) }
}

// WithConfig applies a declarative configuration. Options given after it
// override its values. A persistence provider named in cfg is opened by
// NewAgent unless WithPersistence supplies one, and is then owned and
// closed by the agent.
func WithConfig(cfg config.AgentConfig) Option {
	return func(c *agentConfig) {
		if err := cfg.Validate(); err != nil {
			c.errs = append(c.errs, fmt.Errorf("agent config: %w", err))
			return
		}
		mode, err := tools.ParseMode(cfg.ToolMode)
		if err != nil {
			c.errs = append(c.errs, err)
			return
		}
		c.maxIterations = cfg.MaxIterations
		c.toolMode = mode
		c.toolPolicy = agerrors.Policy{Timeout: cfg.ToolTimeout, Retry: cfg.Retry}
		c.llm = agerrors.Policy{Timeout: cfg.LLMTimeout, Retry: cfg.Retry}
		c.concurrency = cfg.MaxToolConcurrency
		c.finishTool = cfg.FinishTool
		c.automatic = cfg.Persistence.Automatic
		if cfg.Persistence.Provider != config.ProviderNone {
			p := cfg.Persistence
			c.persistence = &p
		}
	}
}
