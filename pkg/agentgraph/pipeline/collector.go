package pipeline

import (
	"context"
	"errors"
	"sync"
)

// Collector is a Dispatcher that forwards to another dispatcher and keeps
// every handler failure it returns.
type Collector struct {
	next Dispatcher

	mu   sync.Mutex
	errs []error
}

// NewCollector wraps next.
func NewCollector(next Dispatcher) *Collector {
	return &Collector{next: next}
}

// Invoke forwards evt and records the joined handler error, if any.
func (c *Collector) Invoke(ctx context.Context, evt Event) error {
	if c.next == nil {
		return nil
	}
	err := c.next.Invoke(ctx, evt)
	if err != nil {
		c.mu.Lock()
		c.errs = append(c.errs, err)
		c.mu.Unlock()
	}
	return err
}

// Len returns the number of failed dispatches recorded.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// Err returns the recorded failures joined, or nil.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.errs...)
}
