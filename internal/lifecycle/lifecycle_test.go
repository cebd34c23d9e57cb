package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetShuttingDown(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false")
	}
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true)")
	}
}

// TestShutdown_RunsAllStepsInOrder verifies that a failing step is reported but
// does not prevent later steps from running.
func TestShutdown_RunsAllStepsInOrder(t *testing.T) {
	defer SetShuttingDown(false)
	core, logs := observer.New(zap.InfoLevel)
	boom := errors.New("boom")

	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Fn: func(ctx context.Context) error {
			order = append(order, name)
			return err
		}}
	}

	err := Shutdown(context.Background(), zap.New(core),
		step("http", nil),
		step("home", boom),
		step("cache", nil),
	)

	if !errors.Is(err, boom) {
		t.Errorf("Shutdown() error = %v, want wrapped boom", err)
	}
	if len(order) != 3 || order[0] != "http" || order[1] != "home" || order[2] != "cache" {
		t.Errorf("order = %v", order)
	}
	if !IsShuttingDown() {
		t.Error("Shutdown() did not set the shutting-down flag")
	}
	if logs.FilterMessage("shutdown step failed").Len() != 1 {
		t.Error("expected one failed step log")
	}
	if logs.FilterMessage("shutdown step done").Len() != 2 {
		t.Error("expected two completed step logs")
	}
}

func TestShutdown_StepTimeout(t *testing.T) {
	defer SetShuttingDown(false)
	err := Shutdown(context.Background(), nil, Step{
		Name:    "drain",
		Timeout: 10 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want DeadlineExceeded", err)
	}
}

func TestShutdown_NoSteps(t *testing.T) {
	defer SetShuttingDown(false)
	if err := Shutdown(context.Background(), nil); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
}
