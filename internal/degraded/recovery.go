// Package degraded runs background recovery for a degraded upstream.
//
// Health reports degraded while the geocoder error rate is above threshold.
// Nothing clears that window except time, so a Recovery probes the upstream on
// a Fibonacci schedule (1m, 2m, 3m, 5m, 8m, 13m with the defaults) and, on the
// first successful probe, calls OnRecovered so the window can be reset.
package degraded

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ProbeFunc checks the upstream. Returns nil if recovered.
type ProbeFunc func(ctx context.Context) error

// Config configures a Recovery. Probe is required.
type Config struct {
	Probe        ProbeFunc
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ProbeTimeout bounds each probe call; defaults to 10s.
	ProbeTimeout time.Duration
	OnRecovered  func()
	OnExhausted  func()
	Logger       *zap.Logger
}

// Recovery runs at most one recovery sequence at a time.
type Recovery struct {
	cfg     Config
	trigger chan struct{}
	running atomic.Bool
	after   func(time.Duration) <-chan time.Time
}

func NewRecovery(cfg Config) *Recovery {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OnRecovered == nil {
		cfg.OnRecovered = func() {}
	}
	if cfg.OnExhausted == nil {
		cfg.OnExhausted = func() {}
	}
	return &Recovery{
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		after:   time.After,
	}
}

// Notify signals that the upstream is degraded. Non-blocking; safe to call
// from handlers on every health check.
func (r *Recovery) Notify() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Running reports whether a recovery sequence is in progress.
func (r *Recovery) Running() bool {
	return r.running.Load()
}

// Run listens for Notify until ctx is done.
func (r *Recovery) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			if r.running.Swap(true) {
				continue
			}
			go func() {
				defer r.running.Store(false)
				r.recover(ctx)
			}()
		}
	}
}

// recover probes on the Fibonacci schedule until a probe succeeds or the
// schedule is exhausted.
func (r *Recovery) recover(ctx context.Context) bool {
	delays := FibDelays(r.cfg.InitialDelay, r.cfg.MaxDelay)
	if len(delays) == 0 || r.cfg.Probe == nil {
		return false
	}
	r.cfg.Logger.Info("degraded recovery started", zap.Int("attempts", len(delays)))
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return false
		case <-r.after(d):
		}
		probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		err := r.cfg.Probe(probeCtx)
		cancel()
		if err == nil {
			r.cfg.Logger.Info("degraded recovery succeeded", zap.Int("attempt", i+1))
			r.cfg.OnRecovered()
			return true
		}
		r.cfg.Logger.Warn("degraded recovery probe failed",
			zap.Int("attempt", i+1),
			zap.Duration("waited", d),
			zap.Error(err))
	}
	r.cfg.Logger.Error("degraded recovery exhausted")
	r.cfg.OnExhausted()
	return false
}

// FibDelays returns initial scaled by 1, 2, 3, 5, 8, ... while the delay stays at or under max.
func FibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := int64(1), int64(2); ; a, b = b, a+b {
		d := time.Duration(a) * initial
		if d > max {
			break
		}
		out = append(out, d)
	}
	return out
}
