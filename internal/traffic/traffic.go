// Package traffic keeps sliding windows of upstream call outcomes. Health
// reporting reads error rates from here.
package traffic

import (
	"sync"
	"time"
)

// Upstream names used across the service.
const (
	Geocoder     = "geocoder"
	Connectivity = "connectivity"
)

const maxAge = 30 * time.Minute

var (
	trackersMu sync.Mutex
	trackers   = map[string]*Tracker{}
)

// For returns the process-wide tracker for the named upstream, creating it on first use.
func For(name string) *Tracker {
	trackersMu.Lock()
	defer trackersMu.Unlock()
	t, ok := trackers[name]
	if !ok {
		t = &Tracker{now: time.Now}
		trackers[name] = t
	}
	return t
}

// ResetAll clears every tracker. For tests only.
func ResetAll() {
	trackersMu.Lock()
	defer trackersMu.Unlock()
	for _, t := range trackers {
		t.Reset()
	}
}

// Tracker records success and error timestamps for one upstream.
type Tracker struct {
	mu           sync.Mutex
	successTimes []time.Time
	errorTimes   []time.Time
	now          func() time.Time
}

// NewTracker returns a standalone tracker using clock now (time.Now when nil).
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

func (t *Tracker) RecordSuccess() {
	t.record(&t.successTimes)
}

func (t *Tracker) RecordError() {
	t.record(&t.errorTimes)
}

// Record records err == nil as a success and anything else as an error.
func (t *Tracker) Record(err error) {
	if err != nil {
		t.RecordError()
		return
	}
	t.RecordSuccess()
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countSince(t.errorTimes, cutoff)
	return errCount, errCount + countSince(t.successTimes, cutoff)
}

// ErrorPct returns the error percentage in the window and whether any outcome was recorded.
func (t *Tracker) ErrorPct(window time.Duration) (float64, bool) {
	errs, total := t.ErrorRate(window)
	if total == 0 {
		return 0, false
	}
	return float64(errs) * 100 / float64(total), true
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
}
