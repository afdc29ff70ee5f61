package agentgraph

import (
	"errors"
	"fmt"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// Sentinel errors for building strategies.
var (
	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode indicates two nodes share a name.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrInvalidName indicates an empty name, or one containing
	// whitespace or the path separator.
	ErrInvalidName = errors.New("invalid name")

	// ErrReservedName indicates a node named after a reserved node.
	ErrReservedName = errors.New("reserved node name")

	// ErrInvalidNode indicates a node without a function or child strategy.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidEdge indicates an edge leaving finish, entering start, or
	// carrying a nil condition or transform.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrTypeMismatch indicates a value whose type does not fit where it
	// is delivered.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrFinishUnreachable indicates no path exists from start to finish.
	ErrFinishUnreachable = errors.New("finish node unreachable from start")
)

// Sentinel errors for running agents.
var (
	// ErrNilContext indicates Run was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilStrategy indicates NewAgent was called without a strategy.
	ErrNilStrategy = errors.New("strategy cannot be nil")

	// ErrAgentClosed indicates the agent already ran or was closed.
	ErrAgentClosed = errors.New("agent closed")

	// ErrRunInProgress indicates Run was called while a run is active.
	ErrRunInProgress = errors.New("agent run in progress")

	// ErrIterationLimitExceeded indicates the run entered more nodes than
	// the configured limit.
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")

	// ErrNoPersistence indicates a checkpoint operation on an agent
	// without a persistence provider.
	ErrNoPersistence = errors.New("no persistence provider configured")

	// ErrInvalidResumeNode indicates a checkpoint names a node path the
	// strategy does not have.
	ErrInvalidResumeNode = errors.New("invalid resume node")

	// ErrTombstone indicates an attempt to resume from a tombstone.
	ErrTombstone = errors.New("checkpoint is a tombstone")

	// ErrNoExecutor indicates an LLM request on an agent built without a
	// prompt executor.
	ErrNoExecutor = errors.New("no prompt executor configured")
)

// NodeError wraps an error with node context.
type NodeError struct {
	// Node is the node name; Path its full execution path.
	Node string
	Path string
	// Op is the operation that failed ("execute", "input").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node execution.
type PanicError struct {
	Node  string
	Path  string
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.Path, e.Value)
}

// CancellationError reports where a run stopped because its context ended.
type CancellationError struct {
	// Path is the node that was about to execute or was executing.
	Path string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
	// WasExecuting is true if cancellation was observed by the node itself.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// EdgeError wraps a failing edge condition or transform.
type EdgeError struct {
	From string
	To   string
	// Op is "condition" or "transform".
	Op  string
	Err error
}

// Error implements the error interface.
func (e *EdgeError) Error() string {
	return fmt.Sprintf("edge %s -> %s: %s: %v", e.From, e.To, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EdgeError) Unwrap() error {
	return e.Err
}

// IterationLimitError is returned when a run enters more nodes than
// allowed. It is fatal.
type IterationLimitError struct {
	Max int
	// Path is the node that would have executed next.
	Path string
}

// Error implements the error interface.
func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.Path)
}

// Unwrap returns ErrIterationLimitExceeded for errors.Is support.
func (e *IterationLimitError) Unwrap() error {
	return ErrIterationLimitExceeded
}

// ErrorKind marks the error fatal.
func (e *IterationLimitError) ErrorKind() agerrors.Kind {
	return agerrors.KindFatal
}

// CheckpointError wraps errors from checkpoint operations.
type CheckpointError struct {
	// Path is the node path the checkpoint was for.
	Path string
	// Op is the operation that failed ("open", "load", "save", "tombstone").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// ResumeError reports a checkpoint the agent could not resume from.
type ResumeError struct {
	CheckpointID string
	NodeID       string
	Err          error
}

// Error implements the error interface.
func (e *ResumeError) Error() string {
	return fmt.Sprintf("resume from checkpoint %s at %s: %v", e.CheckpointID, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ResumeError) Unwrap() error {
	return e.Err
}

// ErrorKind marks the error fatal.
func (e *ResumeError) ErrorKind() agerrors.Kind {
	return agerrors.KindFatal
}
