package l3events

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
)

func feedBlink(d *Detector, ears []float64) int {
	fired := 0
	for _, e := range ears {
		if d.UpdateBlink(e) {
			fired++
		}
	}
	return fired
}

func TestBlinkCompletesOnReopen(t *testing.T) {
	d := NewDetector(DefaultConfig())
	fired := feedBlink(d, []float64{0.15, 0.15, 0.15, 0.15, 0.15, 0.30})
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if got := d.Totals().Blinks; got != 1 {
		t.Errorf("Blinks = %d, want 1", got)
	}
	if got := d.Runs().Blink; got != 0 {
		t.Errorf("blink run = %d, want 0", got)
	}
}

func TestDebounceBoundary(t *testing.T) {
	cfg := DefaultConfig()
	for _, tt := range []struct {
		name   string
		closed int
		want   uint64
	}{
		{"one short", cfg.EyeARConsecFrames - 1, 0},
		{"exact", cfg.EyeARConsecFrames, 1},
		{"long", cfg.EyeARConsecFrames + 10, 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(cfg)
			ears := make([]float64, 0, tt.closed+1)
			for i := 0; i < tt.closed; i++ {
				ears = append(ears, 0.1)
			}
			ears = append(ears, 0.3)
			feedBlink(d, ears)
			if got := d.Totals().Blinks; got != tt.want {
				t.Errorf("Blinks = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQualifyingFramesNeverEmit(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i := 0; i < 50; i++ {
		if d.UpdateBlink(0.05) {
			t.Fatalf("emitted on qualifying frame %d", i)
		}
	}
	if d.Runs().Blink != 50 {
		t.Errorf("run = %d, want 50", d.Runs().Blink)
	}
}

func TestThresholdsAreStrict(t *testing.T) {
	blink, yawn, nod := DefaultConfig().Rules()
	if blink.Qualifies(0.2) {
		t.Error("EAR equal to threshold must not qualify")
	}
	if yawn.Qualifies(0.5) {
		t.Error("MAR equal to threshold must not qualify")
	}
	if nod.Qualifies(15) {
		t.Error("pitch equal to threshold must not qualify")
	}
	if !yawn.Qualifies(0.51) || !nod.Qualifies(15.1) || !blink.Qualifies(0.19) {
		t.Error("values past the threshold must qualify")
	}
}

func TestStepIsPure(t *testing.T) {
	r := Rule{Threshold: 1, Compare: Above, Required: 2}
	s0 := RunState{}
	s1, fired := Step(s0, 2, r)
	if fired || s1.Run != 1 || s0.Run != 0 {
		t.Fatalf("Step = %+v,%v; input mutated=%v", s1, fired, s0.Run != 0)
	}
	s2, _ := Step(s1, 2, r)
	s3, fired := Step(s2, 0, r)
	if !fired || s3.Run != 0 {
		t.Errorf("Step after run of 2 = %+v,%v; want emit and reset", s3, fired)
	}
}

func TestNoFaceFiresEveryThreshold(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)
	fired := 0
	for i := 0; i < cfg.AbsenceConsecFrames*3; i++ {
		if d.UpdateNoFace() {
			fired++
		}
	}
	if fired != 3 {
		t.Errorf("fired = %d, want 3", fired)
	}
	if d.Totals().NoDriver != 3 {
		t.Errorf("NoDriver = %d, want 3", d.Totals().NoDriver)
	}
}

func TestNoFaceCountSurvivesFaceFrames(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)
	for i := 0; i < cfg.AbsenceConsecFrames-1; i++ {
		d.UpdateNoFace()
	}
	// Face frames in between do not reset absence counting.
	d.Observe(l2metrics.FrameMetrics{EAR: 0.3, MAR: 0.1}, time.Now())
	if !d.UpdateNoFace() {
		t.Fatal("expected absence to fire on the threshold frame")
	}
	if d.Runs().Absence != 0 {
		t.Errorf("absence count after firing = %d, want 0", d.Runs().Absence)
	}
}

func TestObserveSkipsNodWithoutPose(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)
	pose := &l2metrics.HeadPose{Pitch: 30}
	at := time.Date(2026, 10, 18, 13, 5, 0, 0, time.UTC)

	d.Observe(l2metrics.FrameMetrics{EAR: 0.3, Pose: pose}, at)
	d.Observe(l2metrics.FrameMetrics{EAR: 0.3, Pose: pose}, at)
	// Pose failure: run must neither advance nor reset.
	d.Observe(l2metrics.FrameMetrics{EAR: 0.3}, at)
	if got := d.Runs().Nod; got != 2 {
		t.Fatalf("nod run after pose failure = %d, want 2", got)
	}
	d.Observe(l2metrics.FrameMetrics{EAR: 0.3, Pose: pose}, at)
	events := d.Observe(l2metrics.FrameMetrics{EAR: 0.3, Pose: &l2metrics.HeadPose{Pitch: 0}}, at)
	if len(events) != 1 || events[0].Kind != Nod {
		t.Fatalf("events = %+v, want one nod", events)
	}
	if !strings.HasPrefix(events[0].Message, "2026-10-18 13:05") || !strings.HasSuffix(events[0].Message, "nod") {
		t.Errorf("message = %q", events[0].Message)
	}
	if d.Totals().Nods != 1 {
		t.Errorf("Nods = %d, want 1", d.Totals().Nods)
	}
}

func TestObserveNoFaceEvent(t *testing.T) {
	d := NewDetector(Config{AbsenceConsecFrames: 2})
	at := time.Now()
	if ev := d.ObserveNoFace(at); ev != nil {
		t.Fatalf("unexpected event %+v", ev)
	}
	ev := d.ObserveNoFace(at)
	if len(ev) != 1 || ev[0].Kind != NoFace {
		t.Fatalf("events = %+v, want one no-face", ev)
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{Blink: "blink", Yawn: "yawn", Nod: "nod", NoFace: "no_face", Kind(9): "kind(9)"} {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero blink run", func(c *Config) { c.EyeARConsecFrames = 0 }, "eye AR consecutive frames"},
		{"zero yawn run", func(c *Config) { c.MouthARConsecFrames = 0 }, "mouth AR consecutive frames"},
		{"negative nod run", func(c *Config) { c.NodConsecFrames = -1 }, "nod consecutive frames"},
		{"zero absence run", func(c *Config) { c.AbsenceConsecFrames = 0 }, "absence consecutive frames"},
		{"NaN eye threshold", func(c *Config) { c.EyeARThresh = math.NaN() }, "eye AR threshold"},
		{"infinite pitch threshold", func(c *Config) { c.HeadPitchThresh = math.Inf(1) }, "head pitch threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
