package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// Sentinel errors.
var (
	ErrDuplicateFeature = errors.New("pipeline: feature already installed")
	ErrClosed           = errors.New("pipeline: closed")
)

// Handler reacts to one event. A returned error is logged and reported to
// the invoker but does not prevent later handlers from running.
type Handler func(ctx context.Context, evt Event) error

// Dispatcher is the publishing side of a Pipeline.
type Dispatcher interface {
	Invoke(ctx context.Context, evt Event) error
}

// HandlerError wraps a failure raised by a handler.
type HandlerError struct {
	Hook  Hook
	Owner string
	Err   error

	// Panic holds the recovered value when the handler panicked.
	Panic any
	Stack string
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler %s on %s panicked: %v", e.Owner, e.Hook, e.Panic)
	}
	return fmt.Sprintf("handler %s on %s: %v", e.Owner, e.Hook, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies handler failures as isolated.
func (e *HandlerError) ErrorKind() agerrors.Kind {
	return agerrors.KindHandler
}

type registration struct {
	owner   string
	handler Handler
}

// Pipeline holds ordered handlers per hook and the installed features.
// All methods are safe for concurrent use, and a nil *Pipeline is a valid
// no-op dispatcher.
type Pipeline struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Hook][]registration
	features []Feature
	names    map[string]struct{}
	closed   bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:   slog.Default(),
		handlers: make(map[Hook][]registration),
		names:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register appends handler to hook. Owner identifies the registrant in
// logs and errors.
func (p *Pipeline) Register(hook Hook, owner string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[hook] = append(p.handlers[hook], registration{owner: owner, handler: handler})
}

// HandlerCount returns the number of handlers registered for hook.
func (p *Pipeline) HandlerCount(hook Hook) int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers[hook])
}

// Invoke delivers evt to every handler of evt.Hook in registration order.
// Missing run identity fields are filled from the Scope on ctx. Failures
// are returned joined after all handlers ran.
func (p *Pipeline) Invoke(ctx context.Context, evt Event) error {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	regs := slices.Clone(p.handlers[evt.Hook])
	p.mu.RUnlock()
	if len(regs) == 0 {
		return nil
	}

	if s, ok := ScopeFrom(ctx); ok {
		evt.fill(s)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	var errs []error
	for _, reg := range regs {
		if err := p.call(ctx, reg, evt); err != nil {
			p.logger.Warn("event handler failed",
				slog.String("hook", string(evt.Hook)),
				slog.String("owner", reg.owner),
				slog.String("run_id", evt.RunID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) call(ctx context.Context, reg registration, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{
				Hook:  evt.Hook,
				Owner: reg.owner,
				Err:   fmt.Errorf("panic: %v", r),
				Panic: r,
				Stack: string(debug.Stack()),
			}
		}
	}()
	if herr := reg.handler(ctx, evt); herr != nil {
		return &HandlerError{Hook: evt.Hook, Owner: reg.owner, Err: herr}
	}
	return nil
}
