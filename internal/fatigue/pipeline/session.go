package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l3events"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l4rates"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l5score"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
	"github.com/banshee-data/fatigue.report/internal/timeutil"
)

// ErrAlreadyRunning is returned by Run when the session is already running.
var ErrAlreadyRunning = errors.New("session already running")

// errFeedClosed stops the other loops once the frame source is exhausted.
var errFeedClosed = errors.New("frame feed closed")

// FrameResult is what one frame did to the session.
type FrameResult struct {
	Seq  uint64
	At   time.Time
	Face bool

	// Metrics is nil for no-face frames.
	Metrics *l2metrics.FrameMetrics
	Events  []l3events.Event
	Totals  l3events.EventTotals
	Runs    l3events.Runs
	Score   int
}

// FrameObserver is called synchronously after every accepted frame.
// Implementations must return quickly.
type FrameObserver interface {
	ObserveFrame(FrameResult)
}

// CycleObserver is called after every sampling cycle with the updated
// status. Implementations must return quickly.
type CycleObserver interface {
	ObserveCycle(Status)
}

// Stats counts frames by outcome. Frames counts accepted frames only;
// malformed frames are counted separately and touch nothing else.
type Stats struct {
	Frames               uint64 `json:"frames"`
	Malformed            uint64 `json:"malformed"`
	NoFace               uint64 `json:"no_face"`
	PoseFailures         uint64 `json:"pose_failures"`
	Cycles               uint64 `json:"cycles"`
	Alerts               uint64 `json:"alerts"`
	DroppedNotifications uint64 `json:"dropped_notifications"`
}

// Status is a consistent, read-only snapshot of a session.
type Status struct {
	SessionID     string               `json:"session_id"`
	StartedAt     time.Time            `json:"started_at"`
	At            time.Time            `json:"at"`
	UptimeSeconds float64              `json:"uptime_s"`
	Score         int                  `json:"score"`
	Severity      l5score.Severity     `json:"severity"`
	Totals        l3events.EventTotals `json:"totals"`
	Runs          l3events.Runs        `json:"runs"`
	Rates         l4rates.RateSnapshot `json:"rates"`
	Stats         Stats                `json:"stats"`
	LastAlert     *l5score.Alert       `json:"last_alert,omitempty"`
}

// Session owns the detector state, the fatigue score and the latest rate
// snapshot. All of them live behind one mutex held only for short,
// non-blocking critical sections.
type Session struct {
	id      string
	cfg     Config
	clock   timeutil.Clock
	started time.Time
	running atomic.Bool

	mu        sync.Mutex
	detector  *l3events.Detector
	score     int
	rates     l4rates.RateSnapshot
	alerter   l5score.Alerter
	lastAlert *l5score.Alert
	stats     Stats

	notifier *AsyncNotifier

	sinkMu         sync.RWMutex
	sinks          []Notifier
	frameObservers []FrameObserver
	cycleObservers []CycleObserver
}

// NewSession validates cfg and returns an idle session.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		clock:    clock,
		started:  clock.Now(),
		detector: l3events.NewDetector(cfg.Events),
	}
	s.notifier = NewAsyncNotifier(NotifierFunc(s.fanOut), cfg.NotifyBuffer)
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session's effective configuration.
func (s *Session) Config() Config { return s.cfg }

// AddNotifier registers a notification sink. Sinks run on the notifier
// goroutine, never on the frame path.
func (s *Session) AddNotifier(n Notifier) {
	s.sinkMu.Lock()
	s.sinks = append(s.sinks, n)
	s.sinkMu.Unlock()
}

// AddFrameObserver registers a per-frame hook.
func (s *Session) AddFrameObserver(o FrameObserver) {
	s.sinkMu.Lock()
	s.frameObservers = append(s.frameObservers, o)
	s.sinkMu.Unlock()
}

// AddCycleObserver registers a per-cycle hook.
func (s *Session) AddCycleObserver(o CycleObserver) {
	s.sinkMu.Lock()
	s.cycleObservers = append(s.cycleObservers, o)
	s.sinkMu.Unlock()
}

func (s *Session) fanOut(n Notification) {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	MultiNotifier(s.sinks).Notify(n)
}

// ProcessFrame runs one frame through extraction and event detection.
// Extraction happens outside the lock. A frame with the wrong landmark
// count returns an error wrapping l1landmarks.ErrInvalidLandmarkCount and
// only bumps the malformed counter.
func (s *Session) ProcessFrame(f l1landmarks.Frame) (FrameResult, error) {
	at := f.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}
	result := FrameResult{Seq: f.Seq, At: at, Face: f.Face}

	var metrics l2metrics.FrameMetrics
	if f.Face {
		m, err := l2metrics.Extract(f.Landmarks, s.cfg.Camera, s.cfg.Pose)
		if err != nil {
			s.mu.Lock()
			s.stats.Malformed++
			s.mu.Unlock()
			return result, fmt.Errorf("frame %d: %w", f.Seq, err)
		}
		metrics = m
		result.Metrics = &metrics
	}

	s.mu.Lock()
	s.stats.Frames++
	if f.Face {
		if !metrics.HasPose() {
			s.stats.PoseFailures++
		}
		result.Events = s.detector.Observe(metrics, at)
	} else {
		s.stats.NoFace++
		result.Events = s.detector.ObserveNoFace(at)
	}
	result.Totals = s.detector.Totals()
	result.Runs = s.detector.Runs()
	result.Score = s.score
	s.mu.Unlock()

	if metrics.PoseErr != nil {
		monitoring.Tracef("[session] frame %d: %v", f.Seq, metrics.PoseErr)
	}
	for _, ev := range result.Events {
		s.notifier.Notify(EventNotification(ev, result.Score))
	}

	s.sinkMu.RLock()
	for _, o := range s.frameObservers {
		o.ObserveFrame(result)
	}
	s.sinkMu.RUnlock()
	return result, nil
}

// Totals returns a consistent read of the lifetime event totals.
func (s *Session) Totals() l3events.EventTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector.Totals()
}

// ApplyRates folds one sampled window into the score and notifies cycle
// observers. It returns the new score.
func (s *Session) ApplyRates(snap l4rates.RateSnapshot) int {
	s.mu.Lock()
	prev := s.score
	s.score = l5score.Apply(s.score, snap)
	s.rates = snap
	s.stats.Cycles++
	score := s.score
	s.mu.Unlock()

	monitoring.Diagf("[session] cycle blink=%.2f/s yawn=%.2f/s nod=%.2f/s score %d -> %d",
		snap.Blink, snap.Yawn, snap.Nod, prev, score)

	status := s.Status()
	s.sinkMu.RLock()
	for _, o := range s.cycleObservers {
		o.ObserveCycle(status)
	}
	s.sinkMu.RUnlock()
	return score
}

// CheckAlert reads the score consistently and dispatches an alert when
// the severity is mild or worse.
func (s *Session) CheckAlert(now time.Time) (l5score.Alert, bool) {
	s.mu.Lock()
	alert, ok := s.alerter.Check(s.score, now)
	if ok {
		s.lastAlert = &alert
		s.stats.Alerts++
	}
	s.mu.Unlock()

	if ok {
		s.notifier.Notify(AlertNotification(alert))
	}
	return alert, ok
}

// Score returns the current fatigue score.
func (s *Session) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	now := s.clock.Now()
	s.mu.Lock()
	st := Status{
		SessionID: s.id,
		StartedAt: s.started,
		At:        now,
		Score:     s.score,
		Severity:  l5score.Classify(s.score),
		Totals:    s.detector.Totals(),
		Runs:      s.detector.Runs(),
		Rates:     s.rates,
		Stats:     s.stats,
	}
	if s.lastAlert != nil {
		a := *s.lastAlert
		st.LastAlert = &a
	}
	s.mu.Unlock()

	st.UptimeSeconds = now.Sub(s.started).Seconds()
	st.Stats.DroppedNotifications = s.notifier.Dropped()
	return st
}

// Run processes frames and drives the sampling and alert loops until ctx
// is cancelled or frames is closed. It returns nil when the feed ends and
// ctx.Err() when cancelled. Run may only be called once at a time.
func (s *Session) Run(ctx context.Context, frames <-chan l1landmarks.Frame) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	monitoring.Logf("[session] %s started (window %v, alerts every %v)", s.id, s.cfg.SampleWindow, s.cfg.AlertInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.notifier.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := s.frameLoop(gctx, frames); err != nil {
			return err
		}
		return errFeedClosed
	})
	g.Go(func() error {
		sampler := &l4rates.Sampler{Clock: s.clock, Window: s.cfg.SampleWindow, Source: s}
		return sampler.Run(gctx, func(snap l4rates.RateSnapshot) { s.ApplyRates(snap) })
	})
	g.Go(func() error { return s.alertLoop(gctx) })

	err := g.Wait()
	st := s.Status()
	monitoring.Logf("[session] %s stopped: %d frames, %d malformed, score %d (%s)",
		s.id, st.Stats.Frames, st.Stats.Malformed, st.Score, st.Severity)
	if errors.Is(err, errFeedClosed) {
		return nil
	}
	return err
}

func (s *Session) frameLoop(ctx context.Context, frames <-chan l1landmarks.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if _, err := s.ProcessFrame(f); err != nil {
				monitoring.Tracef("[session] skipped %v", err)
			}
		}
	}
}

func (s *Session) alertLoop(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.AlertInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			s.CheckAlert(now)
		}
	}
}
