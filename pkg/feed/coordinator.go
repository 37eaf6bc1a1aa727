package feed

import (
	"context"
	"errors"
)

// Coordinator is the single stop signal shared by the training loop and the producers.
// The first call to RequestStop wins, and its cause is the one reported.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewCoordinator(parent context.Context) *Coordinator {
	ctx, cancel := context.WithCancelCause(parent)
	return &Coordinator{
		ctx:    ctx,
		cancel: cancel,
	}
}

// RequestStop asks every participant to stop. A nil cause means an orderly stop.
func (c *Coordinator) RequestStop(cause error) {
	c.cancel(cause)
}

func (c *Coordinator) ShouldStop() bool {
	return c.ctx.Err() != nil
}

// Context is cancelled as soon as a stop is requested
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Cause returns the error passed to the first RequestStop, or nil if the stop was orderly
// or has not happened.
func (c *Coordinator) Cause() error {
	cause := context.Cause(c.ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}
