// Package shutdown turns process signals into context cancellation.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var exit = os.Exit

// WithSignals returns a context cancelled on the first SIGINT or SIGTERM.
// A second signal exits the process immediately.
func WithSignals(ctx context.Context, log *slog.Logger) (context.Context, context.CancelFunc) {
	return withChannel(ctx, log, func(ch chan<- os.Signal) {
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	})
}

func withChannel(ctx context.Context, log *slog.Logger, notify func(chan<- os.Signal)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 2)
	notify(ch)

	go func() {
		select {
		case sig := <-ch:
			log.Info("shutdown requested", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			return
		}
		sig := <-ch
		log.Warn("forced exit", "signal", sig.String())
		exit(1)
	}()

	return ctx, cancel
}
