package workflow

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imtaco/audio-rooms/internal/log"
)

type Cleanup func(ctx context.Context)

// WaitGracefulShutdown blocks until ctx ends or SIGINT/SIGTERM arrives, then
// runs cleanup bounded by timeout. A second signal abandons the cleanup.
// It reports whether cleanup completed.
func WaitGracefulShutdown(ctx context.Context, logger *log.Logger, cleanup Cleanup, timeout time.Duration) bool {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	logger.Info("Graceful shutdown handler registered")
	return waitShutdown(ctx, sigs, logger, cleanup, timeout)
}

func waitShutdown(
	ctx context.Context,
	sigs <-chan os.Signal,
	logger *log.Logger,
	cleanup Cleanup,
	timeout time.Duration,
) bool {
	select {
	case <-ctx.Done():
		logger.Info("Context done, shutting down")
	case sig := <-sigs:
		logger.Info("Received signal, shutting down", log.String("signal", sig.String()))
	}

	cctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic during graceful shutdown", log.Any("error", r))
			}
		}()
		cleanup(cctx)
	}()

	select {
	case <-done:
		logger.Info("Graceful shutdown completed")
		return true
	case <-cctx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
	case sig := <-sigs:
		logger.Warn("Second signal received, forcing exit", log.String("signal", sig.String()))
	}
	return false
}
