package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Feature is an installable extension. Install registers its handlers.
type Feature interface {
	Name() string
	Install(p *Pipeline) error
}

// Closer is implemented by features holding resources. Close is called
// once when the pipeline closes, in reverse install order.
type Closer interface {
	Close(ctx context.Context) error
}

// FeatureFunc adapts a function to Feature.
type FeatureFunc struct {
	FeatureName string
	InstallFunc func(p *Pipeline) error
	CloseFunc   func(ctx context.Context) error
}

// Name implements Feature.
func (f FeatureFunc) Name() string { return f.FeatureName }

// Install implements Feature.
func (f FeatureFunc) Install(p *Pipeline) error {
	if f.InstallFunc == nil {
		return nil
	}
	return f.InstallFunc(p)
}

// Close implements Closer.
func (f FeatureFunc) Close(ctx context.Context) error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc(ctx)
}

// Install installs f. Names must be unique per pipeline.
func (p *Pipeline) Install(f Feature) error {
	name := f.Name()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if _, dup := p.names[name]; dup {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateFeature, name)
	}
	p.names[name] = struct{}{}
	p.mu.Unlock()

	// Install registers handlers, which takes the lock.
	if err := f.Install(p); err != nil {
		p.mu.Lock()
		delete(p.names, name)
		p.mu.Unlock()
		return fmt.Errorf("install feature %s: %w", name, err)
	}

	p.mu.Lock()
	p.features = append(p.features, f)
	p.mu.Unlock()
	return nil
}

// Features returns installed feature names in install order.
func (p *Pipeline) Features() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.features))
	for i, f := range p.features {
		names[i] = f.Name()
	}
	return names
}

// Close closes features in reverse install order. Only the first call
// does anything; later calls return nil.
func (p *Pipeline) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	features := p.features
	p.mu.Unlock()

	var errs []error
	for i := len(features) - 1; i >= 0; i-- {
		c, ok := features[i].(Closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close feature %s: %w", features[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Closed reports whether Close has been called.
func (p *Pipeline) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
