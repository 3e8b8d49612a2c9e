package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l3events"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// DefaultMaxFrameSamples keeps an hour of frames at 30 fps.
const DefaultMaxFrameSamples = 30 * 60 * 60

// Thresholds are drawn as reference lines on the metric plots. Zero values
// are not drawn.
type Thresholds struct {
	EAR   float64
	MAR   float64
	Pitch float64
}

// FrameSample is one face frame's measurements.
type FrameSample struct {
	At    time.Time
	EAR   float64
	MAR   float64
	Pose  bool
	Pitch float64
	Yaw   float64
	Roll  float64
}

// CycleSample is one sampling cycle.
type CycleSample struct {
	At    time.Time
	Score int
	Blink float64
	Yawn  float64
	Nod   float64
}

// EventMark is an emitted event placed on the time axis.
type EventMark struct {
	At   time.Time
	Kind l3events.Kind
}

// SessionPlotter records a session's per-frame metrics and per-cycle
// score so they can be plotted after a run. It is both a
// pipeline.FrameObserver and a pipeline.CycleObserver.
type SessionPlotter struct {
	mu         sync.Mutex
	enabled    bool
	outputDir  string
	thresholds Thresholds
	maxFrames  int

	frames []FrameSample
	cycles []CycleSample
	events []EventMark

	startTime time.Time
	trimmed   uint64
}

// NewSessionPlotter creates a plotter that draws the given thresholds.
func NewSessionPlotter(th Thresholds) *SessionPlotter {
	return &SessionPlotter{thresholds: th, maxFrames: DefaultMaxFrameSamples}
}

// SetMaxFrameSamples caps the number of frame samples kept; the oldest are
// dropped first.
func (sp *SessionPlotter) SetMaxFrameSamples(n int) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if n > 0 {
		sp.maxFrames = n
	}
}

// Start clears previous samples and begins recording into outputDir.
func (sp *SessionPlotter) Start(outputDir string) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	sp.outputDir = outputDir
	sp.enabled = true
	sp.startTime = time.Time{}
	sp.frames = nil
	sp.cycles = nil
	sp.events = nil
	sp.trimmed = 0
	return nil
}

// Stop disables recording. Call GeneratePlots to write the files.
func (sp *SessionPlotter) Stop() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.enabled = false
}

// IsEnabled reports whether the plotter is recording.
func (sp *SessionPlotter) IsEnabled() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.enabled
}

// OutputDir returns the directory plots are written to.
func (sp *SessionPlotter) OutputDir() string {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.outputDir
}

func (sp *SessionPlotter) markStart(at time.Time) {
	if sp.startTime.IsZero() || at.Before(sp.startTime) {
		sp.startTime = at
	}
}

// ObserveFrame records a frame's metrics and events.
func (sp *SessionPlotter) ObserveFrame(r pipeline.FrameResult) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.enabled {
		return
	}
	sp.markStart(r.At)

	for _, ev := range r.Events {
		sp.events = append(sp.events, EventMark{At: ev.At, Kind: ev.Kind})
	}
	if r.Metrics == nil {
		return
	}

	s := FrameSample{At: r.At, EAR: r.Metrics.EAR, MAR: r.Metrics.MAR}
	if p := r.Metrics.Pose; p != nil {
		s.Pose = true
		s.Pitch, s.Yaw, s.Roll = p.Pitch, p.Yaw, p.Roll
	}
	if len(sp.frames) >= sp.maxFrames {
		sp.frames = append(sp.frames[:0], sp.frames[1:]...)
		sp.trimmed++
	}
	sp.frames = append(sp.frames, s)
}

// ObserveCycle records the score and rates of a sampling cycle.
func (sp *SessionPlotter) ObserveCycle(st pipeline.Status) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.enabled {
		return
	}
	sp.markStart(st.At)
	sp.cycles = append(sp.cycles, CycleSample{
		At:    st.At,
		Score: st.Score,
		Blink: st.Rates.Blink,
		Yawn:  st.Rates.Yawn,
		Nod:   st.Rates.Nod,
	})
}

// SampleCounts returns the number of frame samples, cycle samples and
// events recorded.
func (sp *SessionPlotter) SampleCounts() (frames, cycles, events int) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.frames), len(sp.cycles), len(sp.events)
}

// GeneratePlots writes metrics.png, pose.png, score.png and rates.png for
// whatever was recorded. It returns the number of files written.
func (sp *SessionPlotter) GeneratePlots() (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if sp.trimmed > 0 {
		monitoring.Diagf("[report] %d oldest frame samples were dropped", sp.trimmed)
	}

	count := 0
	if len(sp.frames) > 0 {
		if err := sp.metricsPlot(); err != nil {
			return count, fmt.Errorf("metrics: %w", err)
		}
		count++
		if sp.hasPose() {
			if err := sp.posePlot(); err != nil {
				return count, fmt.Errorf("pose: %w", err)
			}
			count++
		}
	}
	if len(sp.cycles) > 0 {
		if err := sp.scorePlot(); err != nil {
			return count, fmt.Errorf("score: %w", err)
		}
		count++
		if err := sp.ratesPlot(); err != nil {
			return count, fmt.Errorf("rates: %w", err)
		}
		count++
	}
	return count, nil
}

func (sp *SessionPlotter) hasPose() bool {
	for _, f := range sp.frames {
		if f.Pose {
			return true
		}
	}
	return false
}

func (sp *SessionPlotter) secs(t time.Time) float64 {
	return t.Sub(sp.startTime).Seconds()
}

func newPlot(title, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	l.Color = c
	l.Width = vg.Points(1)
	p.Add(l)
	p.Legend.Add(label, l)
	return nil
}

// addThreshold draws a dashed horizontal reference line.
func addThreshold(p *plot.Plot, label string, y float64, c color.Color) {
	if y == 0 {
		return
	}
	f := plotter.NewFunction(func(float64) float64 { return y })
	f.Color = c
	f.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	f.Width = vg.Points(0.75)
	p.Add(f)
	p.Legend.Add(label, f)
}

func (sp *SessionPlotter) addEventMarks(p *plot.Plot, kind l3events.Kind, y float64, c color.Color) error {
	var pts plotter.XYs
	for _, ev := range sp.events {
		if ev.Kind == kind {
			pts = append(pts, plotter.XY{X: sp.secs(ev.At), Y: y})
		}
	}
	if len(pts) == 0 {
		return nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Color = c
	sc.GlyphStyle.Shape = draw.TriangleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(3)
	p.Add(sc)
	p.Legend.Add(kind.String(), sc)
	return nil
}

func (sp *SessionPlotter) save(p *plot.Plot, name string) error {
	file := filepath.Join(sp.outputDir, name)
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (sp *SessionPlotter) metricsPlot() error {
	p := newPlot("Eye and Mouth Aspect Ratios", "Ratio")
	ear := make(plotter.XYs, 0, len(sp.frames))
	mar := make(plotter.XYs, 0, len(sp.frames))
	for _, f := range sp.frames {
		x := sp.secs(f.At)
		ear = append(ear, plotter.XY{X: x, Y: f.EAR})
		mar = append(mar, plotter.XY{X: x, Y: f.MAR})
	}
	if err := addLine(p, "EAR", ear, plotutil.Color(0)); err != nil {
		return err
	}
	if err := addLine(p, "MAR", mar, plotutil.Color(1)); err != nil {
		return err
	}
	addThreshold(p, "EAR threshold", sp.thresholds.EAR, plotutil.Color(0))
	addThreshold(p, "MAR threshold", sp.thresholds.MAR, plotutil.Color(1))
	if err := sp.addEventMarks(p, l3events.Blink, sp.thresholds.EAR, plotutil.Color(2)); err != nil {
		return err
	}
	if err := sp.addEventMarks(p, l3events.Yawn, sp.thresholds.MAR, plotutil.Color(3)); err != nil {
		return err
	}
	return sp.save(p, "metrics.png")
}

func (sp *SessionPlotter) posePlot() error {
	p := newPlot("Head Pose", "Angle (deg)")
	var pitch, yaw, roll plotter.XYs
	for _, f := range sp.frames {
		if !f.Pose {
			continue
		}
		x := sp.secs(f.At)
		pitch = append(pitch, plotter.XY{X: x, Y: f.Pitch})
		yaw = append(yaw, plotter.XY{X: x, Y: f.Yaw})
		roll = append(roll, plotter.XY{X: x, Y: f.Roll})
	}
	for i, s := range []struct {
		label string
		pts   plotter.XYs
	}{{"pitch", pitch}, {"yaw", yaw}, {"roll", roll}} {
		if err := addLine(p, s.label, s.pts, plotutil.Color(i)); err != nil {
			return err
		}
	}
	addThreshold(p, "nod threshold", sp.thresholds.Pitch, plotutil.Color(0))
	if err := sp.addEventMarks(p, l3events.Nod, sp.thresholds.Pitch, plotutil.Color(3)); err != nil {
		return err
	}
	return sp.save(p, "pose.png")
}

func (sp *SessionPlotter) scorePlot() error {
	p := newPlot("Fatigue Score", "Score")
	p.Y.Min, p.Y.Max = 0, 100
	pts := make(plotter.XYs, 0, len(sp.cycles))
	for _, c := range sp.cycles {
		pts = append(pts, plotter.XY{X: sp.secs(c.At), Y: float64(c.Score)})
	}
	if err := addLine(p, "score", pts, plotutil.Color(0)); err != nil {
		return err
	}
	// Severity band edges.
	addThreshold(p, "mild", 30, plotutil.Color(2))
	addThreshold(p, "moderate", 56, plotutil.Color(4))
	addThreshold(p, "severe", 76, plotutil.Color(1))
	if err := sp.addEventMarks(p, l3events.NoFace, 0, plotutil.Color(5)); err != nil {
		return err
	}
	return sp.save(p, "score.png")
}

func (sp *SessionPlotter) ratesPlot() error {
	p := newPlot("Event Rates", "Events per second")
	var blink, yawn, nod plotter.XYs
	for _, c := range sp.cycles {
		x := sp.secs(c.At)
		blink = append(blink, plotter.XY{X: x, Y: c.Blink})
		yawn = append(yawn, plotter.XY{X: x, Y: c.Yawn})
		nod = append(nod, plotter.XY{X: x, Y: c.Nod})
	}
	if err := addLine(p, "blink", blink, plotutil.Color(0)); err != nil {
		return err
	}
	if err := addLine(p, "yawn", yawn, plotutil.Color(1)); err != nil {
		return err
	}
	if err := addLine(p, "nod", nod, plotutil.Color(2)); err != nil {
		return err
	}
	return sp.save(p, "rates.png")
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir returns a timestamped output directory for plots.
// Replays go under plots/<capture basename>/<timestamp>, live sessions
// under plots/live_<timestamp>.
func MakePlotOutputDir(baseDir, captureFile string, now time.Time) string {
	ts := FormatTimestamp(now)
	if captureFile != "" {
		base := filepath.Base(captureFile)
		name := base[:len(base)-len(filepath.Ext(base))]
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
