// Closes open external connections before shutting down Shipper.
// Inspired from https://medium.com/tokopedia-engineering/gracefully-shutdown-your-go-application-9e7d5c73b5ac

package cleanup

import (
	"Shipper/pkg/log"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// operation is a clean up function standard.
type Operation func(ctx context.Context) error

// exit is swapped in tests so a forced shutdown doesn't kill the test binary.
var exit = os.Exit

// GracefulShutdown function waits for termination system-calls and performs clean-up operations.
// The returned channel is closed once every operation has returned.
func GracefulShutdown(ctx context.Context, logger log.Logger, timeout time.Duration, operations map[string]Operation) <-chan struct{} {
	// buffered channel to receive shutdown signal
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	return shutdownOn(ctx, logger, s, timeout, operations)
}

func shutdownOn(ctx context.Context, logger log.Logger, signals <-chan os.Signal, timeout time.Duration, operations map[string]Operation) <-chan struct{} {
	wait := make(chan struct{})

	go func() {
		defer close(wait)
		select {
		case sig := <-signals:
			logger.Warn().Str("signal", sig.String()).Msg("Graceful shutdown in progress.")
		case <-ctx.Done():
			logger.Warn().Msg("Graceful shutdown in progress.")
		}

		// Force exit after timeout duration has been elapsed
		force := time.AfterFunc(timeout, func() {
			logger.Warn().Msgf("Timeout of %.1fs has been elapsed. Forcing shutdown!", timeout.Seconds())
			exit(3)
		})
		defer force.Stop()

		opctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		// Executing the cleanup operations asynchronously, a failing one doesn't stop the others
		var group errgroup.Group
		for opname, op := range operations {
			group.Go(func() error {
				logger.Info().Msgf("Shutting down: %s", opname)
				if err := op(opctx); err != nil {
					logger.Error().Err(err).Msgf("%s shutdown failed.", opname)
					return err
				}
				logger.Info().Msgf("%s shutdown completed.", opname)
				return nil
			})
		}
		// Wait for all of the tasks to finish
		if err := group.Wait(); err != nil {
			logger.Error().Err(err).Msg("Shutdown finished with errors.")
		}
	}()

	return wait
}
