// Package timeutil abstracts the wall clock so that sampling windows and
// alert cadences can be driven deterministically in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by the fatigue loops.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// NewTimer creates a Timer that fires once after d.
	NewTimer(d time.Duration) Timer

	// NewTicker creates a Ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Timer represents a single event timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker delivers ticks at a fixed interval.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) C() <-chan time.Time        { return t.timer.C }
func (t *realTimer) Stop() bool                 { return t.timer.Stop() }
func (t *realTimer) Reset(d time.Duration) bool { return t.timer.Reset(d) }

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time   { return t.ticker.C }
func (t *realTicker) Stop()                 { t.ticker.Stop() }
func (t *realTicker) Reset(d time.Duration) { t.ticker.Reset(d) }

// MockClock is a manually advanced clock. Timers and tickers created from
// it fire only when Advance moves time past their deadline.
type MockClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	timers  []*MockTimer
	tickers []*MockTicker
}

// NewMockClock returns a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	c := &MockClock{now: t}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d and fires every timer and ticker
// whose deadline has been reached.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := append([]*MockTimer(nil), c.timers...)
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range timers {
		t.fireIfDue(now)
	}
	for _, t := range tickers {
		t.fireIfDue(now)
	}
}

// BlockUntil waits until at least n timers or tickers are armed. Tests use
// it to avoid advancing the clock before a goroutine has started waiting.
func (c *MockClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.armedLocked() < n {
		c.cond.Wait()
	}
}

// Armed returns the number of timers and tickers currently armed.
func (c *MockClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armedLocked()
}

func (c *MockClock) armedLocked() int {
	n := 0
	for _, t := range c.timers {
		if t.armed() {
			n++
		}
	}
	for _, t := range c.tickers {
		if t.armed() {
			n++
		}
	}
	return n
}

// changed wakes BlockUntil callers after a timer or ticker changes state.
func (c *MockClock) changed() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	t := &MockTimer{
		clock:    c,
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
		active:   true,
	}
	c.timers = append(c.timers, t)
	c.cond.Broadcast()
	c.mu.Unlock()
	return t
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("non-positive interval for NewTicker")
	}
	c.mu.Lock()
	t := &MockTicker{
		clock:    c,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.now.Add(d),
		active:   true,
	}
	c.tickers = append(c.tickers, t)
	c.cond.Broadcast()
	c.mu.Unlock()
	return t
}

// MockTimer is a timer driven by a MockClock.
type MockTimer struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	active   bool
}

func (t *MockTimer) C() <-chan time.Time { return t.ch }

func (t *MockTimer) armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *MockTimer) Stop() bool {
	t.mu.Lock()
	was := t.active
	t.active = false
	t.mu.Unlock()
	t.clock.changed()
	return was
}

// Reset re-arms the timer to fire d after the clock's current time.
func (t *MockTimer) Reset(d time.Duration) bool {
	now := t.clock.Now()
	t.mu.Lock()
	was := t.active
	t.active = true
	t.deadline = now.Add(d)
	t.mu.Unlock()
	t.clock.changed()
	return was
}

func (t *MockTimer) fireIfDue(now time.Time) {
	t.mu.Lock()
	if !t.active || now.Before(t.deadline) {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.mu.Unlock()

	select {
	case t.ch <- now:
	default:
	}
	t.clock.changed()
}

// MockTicker is a ticker driven by a MockClock. Like time.Ticker it drops
// ticks when the receiver falls behind.
type MockTicker struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	active   bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *MockTicker) Stop() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
	t.clock.changed()
}

func (t *MockTicker) Reset(d time.Duration) {
	if d <= 0 {
		panic("non-positive interval for Ticker.Reset")
	}
	now := t.clock.Now()
	t.mu.Lock()
	t.interval = d
	t.next = now.Add(d)
	t.active = true
	t.mu.Unlock()
	t.clock.changed()
}

func (t *MockTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	if !t.active || now.Before(t.next) {
		t.mu.Unlock()
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.interval)
	}
	t.mu.Unlock()

	select {
	case t.ch <- now:
	default:
	}
}
