package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets the engine finish its
// in-flight poll cycle; the second is the escape hatch when draining hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		sig, ok := awaitSignal(sigCh, ctx.Done())
		if !ok {
			return
		}

		logger.Info("received signal, initiating graceful shutdown",
			slog.String("signal", sig.String()),
		)
		cancel()

		if sig, ok = awaitSignal(sigCh, parent.Done()); ok {
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		}
	}()

	return ctx
}

// awaitSignal blocks until a signal arrives or done closes. The boolean is
// false when done won.
func awaitSignal(sigCh <-chan os.Signal, done <-chan struct{}) (os.Signal, bool) {
	select {
	case sig := <-sigCh:
		return sig, true
	case <-done:
		return nil, false
	}
}
