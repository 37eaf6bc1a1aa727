package train

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WithKillSignals returns a context that is cancelled with ErrInterrupted on SIGINT or SIGTERM.
// Call the returned function to stop listening.
func WithKillSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancel(ErrInterrupted)
		case <-done:
		}
	}()
	return ctx, func() {
		signal.Stop(sigs)
		close(done)
		cancel(nil)
	}
}
