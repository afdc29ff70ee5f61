// Package errors classifies failures raised inside agent runs and provides
// retry with backoff for transient ones.
//
// Two orthogonal axes are used:
//   - Kind: where the failure sits in the run (validation, execution,
//     fatal, handler). Kind decides whether a run can continue.
//   - Category: whether trying again can help (transient, permanent).
//     Category decides whether a call is retried.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the run-level classification of an error.
type Kind int

const (
	// KindExecution is a failure of a single node, LLM call, or tool call.
	// The run may continue when the failing node recovers it.
	KindExecution Kind = iota

	// KindValidation is a malformed graph, batch, or tool argument.
	KindValidation

	// KindFatal stops the run. Persistence read failures, corrupt
	// checkpoints, and non-recoverable tools are fatal.
	KindFatal

	// KindHandler is a failure inside an event handler. It is isolated
	// and never stops the run.
	KindHandler
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindExecution:
		return "execution"
	case KindValidation:
		return "validation"
	case KindFatal:
		return "fatal"
	case KindHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// kinded is implemented by errors that know their own kind.
type kinded interface {
	ErrorKind() Kind
}

// KindedError attaches a Kind to an arbitrary error.
type KindedError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *KindedError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *KindedError) Unwrap() error {
	return e.Err
}

// ErrorKind implements kinded.
func (e *KindedError) ErrorKind() Kind {
	return e.Kind
}

// WithKind wraps err with kind. A nil err stays nil.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &KindedError{Kind: kind, Err: err}
}

// Fatal marks err as fatal for the run.
func Fatal(err error) error {
	return WithKind(err, KindFatal)
}

// KindOf returns the kind of the first error in err's chain that declares
// one. Undeclared errors are execution errors.
func KindOf(err error) Kind {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return KindValidation
	}
	return KindExecution
}

// IsFatal reports whether err stops the run.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}

// Category represents whether retrying can help.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, temporary network issues.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: authentication failures, invalid arguments, cancellation.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %v (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%v (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent marks err as not retryable.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines whether an error is worth retrying.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return CategoryTransient
		case httpErr.StatusCode >= 500:
			return CategoryTransient
		default:
			return CategoryPermanent
		}
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
