// Package finalizer collects io.Closers and shuts them down in reverse
// order, so a constructor can abort cleanly at any point.
package finalizer

import (
	"context"
	"fmt"
	"io"
)

// Finalizer accumulates resources to be closed.
type Finalizer struct {
	resources []io.Closer
}

// NewFinalizer returns an empty Finalizer.
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Add appends closers to the finalizer.
func (f *Finalizer) Add(cs ...io.Closer) {
	f.resources = append(f.resources, cs...)
}

// Cleanup closes all resources in reverse order and returns err wrapped
// with any close errors.
func (f *Finalizer) Cleanup(err error) error {
	for i := len(f.resources) - 1; i >= 0; i-- {
		if cerr := f.resources[i].Close(); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				err = fmt.Errorf("%v; closing resource: %v", err, cerr)
			}
		}
	}
	return err
}

// Cleanupf is Cleanup with a formatted wrapping error.
func (f *Finalizer) Cleanupf(format string, err error) error {
	return f.Cleanup(fmt.Errorf(format, err))
}

// NewContextCloser wraps a context cancel func as an io.Closer.
func NewContextCloser(cancel context.CancelFunc) io.Closer {
	return &contextCloser{cancel: cancel}
}

type contextCloser struct {
	cancel context.CancelFunc
}

func (c *contextCloser) Close() error {
	c.cancel()
	return nil
}
