package l4rates

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l3events"
	"github.com/banshee-data/fatigue.report/internal/timeutil"
)

// DefaultWindow is the stock sampling window.
const DefaultWindow = 5 * time.Second

// RateSnapshot holds event rates in events per second over one window.
type RateSnapshot struct {
	Blink float64 `json:"blink"`
	Yawn  float64 `json:"yawn"`
	Nod   float64 `json:"nod"`

	// Window is the nominal window the deltas were divided by. End-Start
	// is the time that actually elapsed, which can be longer if the
	// sampling goroutine was delayed.
	Window time.Duration `json:"window"`
	Start  time.Time     `json:"start"`
	End    time.Time     `json:"end"`
}

// Elapsed returns the measured window length.
func (r RateSnapshot) Elapsed() time.Duration { return r.End.Sub(r.Start) }

// Rates computes per-second rates from two totals snapshots taken one
// window apart.
func Rates(before, after l3events.EventTotals, window time.Duration) RateSnapshot {
	secs := window.Seconds()
	if secs <= 0 {
		return RateSnapshot{Window: window}
	}
	return RateSnapshot{
		Blink:  float64(after.Blinks-before.Blinks) / secs,
		Yawn:   float64(after.Yawns-before.Yawns) / secs,
		Nod:    float64(after.Nods-before.Nods) / secs,
		Window: window,
	}
}

// TotalsSource provides a consistent read of the current totals. The
// implementation is responsible for its own locking.
type TotalsSource interface {
	Totals() l3events.EventTotals
}

// TotalsFunc adapts a function to TotalsSource.
type TotalsFunc func() l3events.EventTotals

func (f TotalsFunc) Totals() l3events.EventTotals { return f() }

// Sampler measures event rates over back-to-back windows.
type Sampler struct {
	Clock  timeutil.Clock
	Window time.Duration
	Source TotalsSource
}

// NewSampler returns a sampler on the real clock. A non-positive window
// uses DefaultWindow.
func NewSampler(src TotalsSource, window time.Duration) *Sampler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Sampler{Clock: timeutil.RealClock{}, Window: window, Source: src}
}

// Sample reads the totals, waits one window, reads them again and returns
// the rates. It returns ctx.Err() promptly if ctx is cancelled during the
// wait. No lock is held while waiting.
func (s *Sampler) Sample(ctx context.Context) (RateSnapshot, error) {
	if s.Source == nil {
		return RateSnapshot{}, fmt.Errorf("sampler has no totals source")
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	start := clock.Now()
	before := s.Source.Totals()

	timer := clock.NewTimer(s.Window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return RateSnapshot{}, ctx.Err()
	case <-timer.C():
	}

	after := s.Source.Totals()
	snap := Rates(before, after, s.Window)
	snap.Start = start
	snap.End = clock.Now()
	return snap, nil
}

// Run samples continuously until ctx is cancelled, handing each snapshot
// to fn. fn runs on the sampling goroutine and delays the next window
// while it executes.
func (s *Sampler) Run(ctx context.Context, fn func(RateSnapshot)) error {
	for {
		snap, err := s.Sample(ctx)
		if err != nil {
			return err
		}
		fn(snap)
	}
}
