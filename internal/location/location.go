package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/endertoolsbox/home-weather/internal/models"
)

// ErrPermissionDenied is returned by Subscribe when the provider holds no location permission.
var ErrPermissionDenied = errors.New("location permission denied")

// Provider supplies device positions.
type Provider interface {
	HasPermission() bool
	// LastKnown returns the most recent fix, if any.
	LastKnown(ctx context.Context) (models.Position, bool)
	// Subscribe streams fixes at roughly the requested interval until the
	// subscription is cancelled or ctx is done.
	Subscribe(ctx context.Context, interval time.Duration) (Subscription, error)
}

// Subscription is a live stream of position updates.
type Subscription interface {
	Updates() <-chan models.Position
	// Unsubscribe stops delivery and closes Updates. Safe to call more than once.
	Unsubscribe()
}

type subscription struct {
	ch      chan models.Position
	done    chan struct{}
	once    sync.Once
	onClose func(*subscription)
}

func newSubscription(onClose func(*subscription)) *subscription {
	return &subscription{
		ch:      make(chan models.Position, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// watch unsubscribes when ctx ends. Start it only once the subscription is registered.
func (s *subscription) watch(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.done:
		}
	}()
}

func (s *subscription) Updates() <-chan models.Position { return s.ch }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose(s)
		}
		close(s.done)
	})
}

// offer delivers pos without blocking, replacing an undelivered older fix.
// Callers serialize offer and close through the provider lock.
func (s *subscription) offer(pos models.Position) {
	select {
	case s.ch <- pos:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- pos:
	default:
	}
}

// PushProvider receives positions from outside the process (the POST /location
// endpoint) and fans them out to subscribers.
type PushProvider struct {
	mu      sync.Mutex
	last    models.Position
	hasLast bool
	subs    map[*subscription]struct{}
}

func NewPushProvider() *PushProvider {
	return &PushProvider{subs: make(map[*subscription]struct{})}
}

// HasPermission is always true: a client that pushes positions has consented.
func (p *PushProvider) HasPermission() bool { return true }

func (p *PushProvider) LastKnown(ctx context.Context) (models.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}

// Subscribe ignores interval; updates arrive at the pushing client's cadence.
func (p *PushProvider) Subscribe(ctx context.Context, interval time.Duration) (Subscription, error) {
	s := newSubscription(func(s *subscription) {
		p.mu.Lock()
		delete(p.subs, s)
		close(s.ch)
		p.mu.Unlock()
	})
	p.mu.Lock()
	p.subs[s] = struct{}{}
	p.mu.Unlock()
	s.watch(ctx)
	return s, nil
}

// Publish records pos as the last known fix and forwards it to every subscriber.
func (p *PushProvider) Publish(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = pos
	p.hasLast = true
	for s := range p.subs {
		s.offer(pos)
	}
}

// StaticProvider reports a fixed position, for kiosk deployments without a device.
type StaticProvider struct {
	pos     models.Position
	granted bool
}

// NewStaticProvider returns a provider for pos. With granted false it behaves
// like a device whose user refused the location permission.
func NewStaticProvider(pos models.Position, granted bool) *StaticProvider {
	return &StaticProvider{pos: pos, granted: granted}
}

func (p *StaticProvider) HasPermission() bool { return p.granted }

func (p *StaticProvider) LastKnown(ctx context.Context) (models.Position, bool) {
	if !p.granted {
		return models.Position{}, false
	}
	return p.pos, true
}

// Subscribe emits the fixed position every interval.
func (p *StaticProvider) Subscribe(ctx context.Context, interval time.Duration) (Subscription, error) {
	if !p.granted {
		return nil, ErrPermissionDenied
	}
	if interval <= 0 {
		interval = time.Minute
	}
	var mu sync.Mutex
	closed := false
	s := newSubscription(func(s *subscription) {
		mu.Lock()
		closed = true
		close(s.ch)
		mu.Unlock()
	})
	s.watch(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				mu.Lock()
				if !closed {
					s.offer(p.pos)
				}
				mu.Unlock()
			}
		}
	}()
	return s, nil
}

// Debouncer drops updates arriving within window of the last accepted one.
// The first update is always accepted.
type Debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	last     time.Time
	accepted bool
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Accept reports whether an update at now should be processed, and if so
// records now as the last processed time.
func (d *Debouncer) Accept(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.accepted && now.Sub(d.last) < d.window {
		return false
	}
	d.last = now
	d.accepted = true
	return true
}
