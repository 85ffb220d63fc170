// Package bootstrap wires the process lifecycle: signal handling, the
// run group and the operational HTTP endpoint.
package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"okx_connector/internal/core"
)

// Runner is a long-lived component driven by the app lifecycle
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context) error

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// App orchestrates the application lifecycle
type App struct {
	logger core.ILogger
}

// NewApp creates an App
func NewApp(logger core.ILogger) *App {
	return &App{logger: logger.WithField("component", "app")}
}

// Run starts every runner in an error group under a signal-aware context
// and blocks until all of them return. The first failing runner cancels
// the rest; a plain cancellation counts as a graceful shutdown.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.logger.Info("Starting application")
	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.logger.Info("Application shut down gracefully")
	return nil
}
