package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Step is one stage of the shutdown sequence.
type Step struct {
	Name string
	// Timeout bounds Fn; zero means only the parent context applies.
	Timeout time.Duration
	Fn      func(ctx context.Context) error
}

// Shutdown marks the process as draining and runs steps in order. A failing
// step is logged and does not stop later steps; all failures are returned joined.
func Shutdown(ctx context.Context, logger *zap.Logger, steps ...Step) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	SetShuttingDown(true)

	var errs []error
	for _, step := range steps {
		start := time.Now()
		err := runStep(ctx, step)
		if err != nil {
			logger.Error("shutdown step failed", zap.String("step", step.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
			continue
		}
		logger.Info("shutdown step done", zap.String("step", step.Name), zap.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}

func runStep(ctx context.Context, step Step) error {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	return step.Fn(ctx)
}
