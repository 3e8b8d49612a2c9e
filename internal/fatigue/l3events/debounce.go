package l3events

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
)

// Kind identifies an event type.
type Kind int

const (
	Blink Kind = iota
	Yawn
	Nod
	NoFace
)

func (k Kind) String() string {
	switch k {
	case Blink:
		return "blink"
	case Yawn:
		return "yawn"
	case Nod:
		return "nod"
	case NoFace:
		return "no_face"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Comparison selects which side of the threshold qualifies a frame.
type Comparison int

const (
	Below Comparison = iota
	Above
)

// Rule describes when a frame qualifies for an event and how many
// consecutive qualifying frames complete one.
type Rule struct {
	Kind      Kind
	Threshold float64
	Compare   Comparison
	Required  int
}

// Qualifies reports whether value satisfies the threshold test.
// Comparisons are strict.
func (r Rule) Qualifies(value float64) bool {
	if r.Compare == Above {
		return value > r.Threshold
	}
	return value < r.Threshold
}

// RunState is the count of consecutive qualifying frames for one rule.
type RunState struct {
	Run int
}

// Step advances a run by one frame. A qualifying value extends the run and
// never emits. A non-qualifying value emits when the run had reached the
// required length, and resets the run to zero either way.
func Step(s RunState, value float64, r Rule) (RunState, bool) {
	if r.Qualifies(value) {
		return RunState{Run: s.Run + 1}, false
	}
	return RunState{}, s.Run >= r.Required
}

// EventTotals are the lifetime event counts. They only ever increase.
type EventTotals struct {
	Blinks   uint64 `json:"blinks"`
	Yawns    uint64 `json:"yawns"`
	Nods     uint64 `json:"nods"`
	NoDriver uint64 `json:"no_driver"`
}

// Event is one emitted detection.
type Event struct {
	Kind    Kind
	At      time.Time
	Message string
}

// messageLayout matches the minute-resolution stamp operators read on the
// console.
const messageLayout = "2006-01-02 15:04"

func newEvent(k Kind, at time.Time) Event {
	var what string
	switch k {
	case Blink:
		what = "blink"
	case Yawn:
		what = "yawn"
	case Nod:
		what = "nod"
	case NoFace:
		what = "no driver detected"
	}
	return Event{Kind: k, At: at, Message: at.Format(messageLayout) + " " + what}
}

// Config holds the thresholds and run lengths for all rules.
type Config struct {
	EyeARThresh         float64
	EyeARConsecFrames   int
	MouthARThresh       float64
	MouthARConsecFrames int
	HeadPitchThresh     float64 // degrees, normalized pitch
	NodConsecFrames     int
	AbsenceConsecFrames int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		EyeARThresh:         0.2,
		EyeARConsecFrames:   3,
		MouthARThresh:       0.5,
		MouthARConsecFrames: 3,
		HeadPitchThresh:     15,
		NodConsecFrames:     3,
		AbsenceConsecFrames: 5,
	}
}

// Validate checks every threshold is finite and every run length is at
// least one frame.
func (c Config) Validate() error {
	for _, th := range []struct {
		name string
		v    float64
	}{
		{"eye AR threshold", c.EyeARThresh},
		{"mouth AR threshold", c.MouthARThresh},
		{"head pitch threshold", c.HeadPitchThresh},
	} {
		if math.IsNaN(th.v) || math.IsInf(th.v, 0) {
			return fmt.Errorf("%s must be finite, got %v", th.name, th.v)
		}
	}
	for _, run := range []struct {
		name string
		n    int
	}{
		{"eye AR consecutive frames", c.EyeARConsecFrames},
		{"mouth AR consecutive frames", c.MouthARConsecFrames},
		{"nod consecutive frames", c.NodConsecFrames},
		{"absence consecutive frames", c.AbsenceConsecFrames},
	} {
		if run.n < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", run.name, run.n)
		}
	}
	return nil
}

// Rules expands the config into per-kind rules.
func (c Config) Rules() (blink, yawn, nod Rule) {
	blink = Rule{Kind: Blink, Threshold: c.EyeARThresh, Compare: Below, Required: c.EyeARConsecFrames}
	yawn = Rule{Kind: Yawn, Threshold: c.MouthARThresh, Compare: Above, Required: c.MouthARConsecFrames}
	nod = Rule{Kind: Nod, Threshold: c.HeadPitchThresh, Compare: Above, Required: c.NodConsecFrames}
	return blink, yawn, nod
}

// Runs is a snapshot of the in-progress run lengths.
type Runs struct {
	Blink   int `json:"blink"`
	Yawn    int `json:"yawn"`
	Nod     int `json:"nod"`
	Absence int `json:"absence"`
}

// Detector debounces per-frame metrics into events.
type Detector struct {
	blinkRule, yawnRule, nodRule Rule
	absenceRequired              int

	blink, yawn, nod RunState
	absence          int
	totals           EventTotals
}

// NewDetector returns a detector with zeroed runs and totals.
func NewDetector(cfg Config) *Detector {
	d := &Detector{absenceRequired: cfg.AbsenceConsecFrames}
	d.blinkRule, d.yawnRule, d.nodRule = cfg.Rules()
	return d
}

// UpdateBlink feeds one eye aspect ratio. It returns true when a blink
// completed on this frame.
func (d *Detector) UpdateBlink(ear float64) bool {
	var fired bool
	d.blink, fired = Step(d.blink, ear, d.blinkRule)
	if fired {
		d.totals.Blinks++
	}
	return fired
}

// UpdateYawn feeds one mouth aspect ratio.
func (d *Detector) UpdateYawn(mar float64) bool {
	var fired bool
	d.yawn, fired = Step(d.yawn, mar, d.yawnRule)
	if fired {
		d.totals.Yawns++
	}
	return fired
}

// UpdateNod feeds one normalized pitch in degrees. Frames without a pose
// must not be fed; the run then neither advances nor resets.
func (d *Detector) UpdateNod(pitch float64) bool {
	var fired bool
	d.nod, fired = Step(d.nod, pitch, d.nodRule)
	if fired {
		d.totals.Nods++
	}
	return fired
}

// UpdateNoFace counts one face-less frame. Every AbsenceConsecFrames
// face-less frames it fires once and starts counting again from zero.
// Frames with a face do not reset the count.
func (d *Detector) UpdateNoFace() bool {
	d.absence++
	if d.absence < d.absenceRequired {
		return false
	}
	d.absence = 0
	d.totals.NoDriver++
	return true
}

// Observe runs the blink, yawn and (when a pose is available) nod checks
// for one frame and returns the events that completed on it.
func (d *Detector) Observe(m l2metrics.FrameMetrics, at time.Time) []Event {
	var events []Event
	if d.UpdateBlink(m.EAR) {
		events = append(events, newEvent(Blink, at))
	}
	if d.UpdateYawn(m.MAR) {
		events = append(events, newEvent(Yawn, at))
	}
	if m.HasPose() && d.UpdateNod(m.Pose.Pitch) {
		events = append(events, newEvent(Nod, at))
	}
	return events
}

// ObserveNoFace handles a face-less frame.
func (d *Detector) ObserveNoFace(at time.Time) []Event {
	if d.UpdateNoFace() {
		return []Event{newEvent(NoFace, at)}
	}
	return nil
}

// Totals returns the lifetime totals.
func (d *Detector) Totals() EventTotals { return d.totals }

// Runs returns the current run lengths.
func (d *Detector) Runs() Runs {
	return Runs{Blink: d.blink.Run, Yawn: d.yawn.Run, Nod: d.nod.Run, Absence: d.absence}
}
