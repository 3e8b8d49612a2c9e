package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fatigue.report/internal/config"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l4rates"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l5score"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/fatigue/synthetic"
	"github.com/banshee-data/fatigue.report/internal/timeutil"
)

var epoch = time.Date(2026, 10, 18, 7, 30, 0, 0, time.UTC)

func newSession(t *testing.T, clock timeutil.Clock) *pipeline.Session {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Clock = clock
	s, err := pipeline.NewSession(cfg)
	require.NoError(t, err)
	return s
}

type collector struct {
	mu    sync.Mutex
	items []pipeline.Notification
	ch    chan pipeline.Notification
}

func newCollector() *collector {
	return &collector{ch: make(chan pipeline.Notification, 64)}
}

func (c *collector) Notify(n pipeline.Notification) {
	c.mu.Lock()
	c.items = append(c.items, n)
	c.mu.Unlock()
	select {
	case c.ch <- n:
	default:
	}
}

func (c *collector) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, n := range c.items {
		if n.Kind == pipeline.KindEvent {
			out = append(out, n.Event)
		}
	}
	return out
}

type cycleRecorder chan pipeline.Status

func (c cycleRecorder) ObserveCycle(s pipeline.Status) { c <- s }

type frameCounter struct {
	mu sync.Mutex
	n  int
}

func (f *frameCounter) ObserveFrame(pipeline.FrameResult) {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

func drivingScript() []l1landmarks.Frame {
	gen := synthetic.New(l2metrics.DefaultCameraModel(), 0, 1)
	return gen.Script(epoch, 30, synthetic.DefaultFace(), []synthetic.Segment{
		{Kind: synthetic.Steady, Frames: 5},
		{Kind: synthetic.Blink, Frames: 4},
		{Kind: synthetic.Steady, Frames: 3},
		{Kind: synthetic.Yawn, Frames: 4},
		{Kind: synthetic.Steady, Frames: 3},
		{Kind: synthetic.Nod, Frames: 4},
		{Kind: synthetic.Steady, Frames: 3},
		{Kind: synthetic.Absent, Frames: 5},
	})
}

func TestProcessFrameDetectsScriptedEvents(t *testing.T) {
	t.Parallel()
	s := newSession(t, timeutil.NewMockClock(epoch))
	observer := &frameCounter{}
	s.AddFrameObserver(observer)

	frames := drivingScript()
	for _, f := range frames {
		_, err := s.ProcessFrame(f)
		require.NoError(t, err)
	}

	st := s.Status()
	assert.EqualValues(t, 1, st.Totals.Blinks)
	assert.EqualValues(t, 1, st.Totals.Yawns)
	assert.EqualValues(t, 1, st.Totals.Nods)
	assert.EqualValues(t, 1, st.Totals.NoDriver)
	assert.EqualValues(t, len(frames), st.Stats.Frames)
	assert.EqualValues(t, 5, st.Stats.NoFace)
	assert.Zero(t, st.Stats.PoseFailures)
	assert.Zero(t, st.Stats.Malformed)
	assert.Equal(t, len(frames), observer.n)
}

func TestInvalidLandmarkCountMutatesNothing(t *testing.T) {
	t.Parallel()
	s := newSession(t, timeutil.NewMockClock(epoch))
	gen := synthetic.New(l2metrics.DefaultCameraModel(), 0, 1)

	closed := synthetic.DefaultFace()
	closed.EAR = 0.1
	for i := 0; i < 2; i++ {
		_, err := s.ProcessFrame(l1landmarks.Frame{Seq: uint64(i + 1), Face: true, Landmarks: gen.Landmarks(closed)})
		require.NoError(t, err)
	}
	before := s.Status()

	short := gen.Landmarks(closed)[:67]
	res, err := s.ProcessFrame(l1landmarks.Frame{Seq: 3, Face: true, Landmarks: short})
	require.Error(t, err)
	assert.True(t, errors.Is(err, l1landmarks.ErrInvalidLandmarkCount))
	assert.Empty(t, res.Events)

	after := s.Status()
	assert.Equal(t, before.Totals, after.Totals)
	assert.Equal(t, before.Runs, after.Runs)
	assert.Equal(t, 2, after.Runs.Blink)
	assert.Equal(t, before.Stats.Frames, after.Stats.Frames)
	assert.EqualValues(t, 1, after.Stats.Malformed)
}

func TestApplyRatesUpdatesScoreAndNotifiesCycles(t *testing.T) {
	t.Parallel()
	s := newSession(t, timeutil.NewMockClock(epoch))
	cycles := make(cycleRecorder, 2)
	s.AddCycleObserver(cycles)

	snap := l4rates.RateSnapshot{Blink: 0.7, Nod: 0.3, Window: 5 * time.Second}
	assert.Equal(t, 20, s.ApplyRates(snap)) // 0+15-10+15
	assert.Equal(t, 40, s.ApplyRates(snap))

	first, second := <-cycles, <-cycles
	assert.Equal(t, 20, first.Score)
	assert.Equal(t, l5score.Normal, first.Severity)
	assert.Equal(t, 40, second.Score)
	assert.Equal(t, l5score.Mild, second.Severity)
	assert.EqualValues(t, 2, second.Stats.Cycles)
	assert.Equal(t, snap, second.Rates)
}

func TestCheckAlert(t *testing.T) {
	t.Parallel()
	s := newSession(t, timeutil.NewMockClock(epoch))

	_, ok := s.CheckAlert(epoch)
	assert.False(t, ok, "normal score must not alert")
	assert.Nil(t, s.Status().LastAlert)

	s.ApplyRates(l4rates.RateSnapshot{Blink: 1, Yawn: 1, Nod: 1}) // 0+20+20+25
	alert, ok := s.CheckAlert(epoch)
	require.True(t, ok)
	assert.Equal(t, l5score.Moderate, alert.Severity)

	st := s.Status()
	require.NotNil(t, st.LastAlert)
	assert.Equal(t, 65, st.LastAlert.Score)
	assert.EqualValues(t, 1, st.Stats.Alerts)
}

func TestRunDeliversEventsAndStopsWhenFeedEnds(t *testing.T) {
	t.Parallel()
	s := newSession(t, timeutil.NewMockClock(epoch))
	sink := newCollector()
	s.AddNotifier(sink)

	script := drivingScript()
	frames := make(chan l1landmarks.Frame, len(script))
	for _, f := range script {
		frames <- f
	}
	close(frames)

	err := s.Run(context.Background(), frames)
	require.NoError(t, err)
	assert.Equal(t, []string{"blink", "yawn", "nod", "no_face"}, sink.events())
}

func TestRunDrivesSamplerAndAlerts(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	s := newSession(t, clock)
	sink := newCollector()
	s.AddNotifier(sink)
	s.ApplyRates(l4rates.RateSnapshot{Blink: 1, Yawn: 1, Nod: 1}) // score 65
	cycles := make(cycleRecorder, 4)
	s.AddCycleObserver(cycles)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, make(chan l1landmarks.Frame)) }()

	clock.BlockUntil(2) // sampler timer + alert ticker
	clock.Advance(3 * time.Second)

	select {
	case n := <-sink.ch:
		assert.Equal(t, pipeline.KindAlert, n.Kind)
		assert.Equal(t, "moderate", n.Severity)
		assert.Equal(t, 65, n.Score)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert after the alert interval")
	}

	clock.Advance(2 * time.Second)
	select {
	case st := <-cycles:
		// Quiet window: 65-5-10-20
		assert.Equal(t, 30, st.Score)
		assert.Equal(t, 5*time.Second, st.Rates.Window)
	case <-time.After(2 * time.Second):
		t.Fatal("no sampling cycle after the window")
	}

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	s := newSession(t, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx, make(chan l1landmarks.Frame))
		close(done)
	}()
	clock.BlockUntil(2)

	assert.ErrorIs(t, s.Run(ctx, nil), pipeline.ErrAlreadyRunning)
	cancel()
	<-done
}

func TestConcurrentReadersDuringFrames(t *testing.T) {
	t.Parallel()
	s := newSession(t, timeutil.NewMockClock(epoch))
	script := drivingScript()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				st := s.Status()
				assert.GreaterOrEqual(t, st.Score, 0)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			s.ApplyRates(l4rates.RateSnapshot{Blink: 0.5})
			s.CheckAlert(epoch)
		}
	}()
	for _, f := range script {
		_, err := s.ProcessFrame(f)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	assert.EqualValues(t, 1, s.Totals().Blinks)
}

func TestConfigFromTuningMatchesDefaults(t *testing.T) {
	t.Parallel()
	fromFile := pipeline.ConfigFromTuning(config.MustLoadDefaultConfig())
	if diff := cmp.Diff(pipeline.DefaultConfig(), fromFile); diff != "" {
		t.Errorf("defaults file differs from built-in defaults (-builtin +file):\n%s", diff)
	}
}

func TestNewSessionValidatesConfig(t *testing.T) {
	t.Parallel()
	cfg := pipeline.DefaultConfig()
	cfg.SampleWindow = 0
	_, err := pipeline.NewSession(cfg)
	assert.Error(t, err)

	cfg = pipeline.DefaultConfig()
	cfg.Camera.Intrinsics[0] = -1
	_, err = pipeline.NewSession(cfg)
	assert.Error(t, err)

	cfg = pipeline.DefaultConfig()
	cfg.Events.AbsenceConsecFrames = 0
	_, err = pipeline.NewSession(cfg)
	assert.ErrorContains(t, err, "absence consecutive frames")

	cfg = pipeline.DefaultConfig()
	cfg.Events.EyeARConsecFrames = 0
	_, err = pipeline.NewSession(cfg)
	assert.ErrorContains(t, err, "eye AR consecutive frames")
}

func TestSessionIDsAreUnique(t *testing.T) {
	t.Parallel()
	a := newSession(t, nil)
	b := newSession(t, nil)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, a.ID(), a.Status().SessionID)
}
