// Command gen-landmarks writes a scripted synthetic landmark capture (one
// JSON frame per line) for replay with fatigue -replay.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/fatigue.report/internal/config"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
	"github.com/banshee-data/fatigue.report/internal/fatigue/synthetic"
)

// scenarios are named scripts. Frame counts assume 30 fps.
var scenarios = map[string]string{
	// A few blinks a minute and nothing else.
	"alert": "steady:120,blink:4,steady:90,blink:5,steady:150,blink:4,steady:60",
	// Frequent long blinks, a yawn, nods and a short absence.
	"drowsy": "steady:30,blink:8,steady:20,blink:10,steady:15,yawn:60,steady:20," +
		"blink:9,steady:10,nod:12,steady:15,blink:8,steady:10,nod:15,absent:10,steady:20",
	// Driver leaves the frame repeatedly.
	"absent": "steady:60,absent:30,steady:30,absent:45,steady:30",
}

var segmentKinds = map[string]synthetic.SegmentKind{
	"steady": synthetic.Steady,
	"blink":  synthetic.Blink,
	"yawn":   synthetic.Yawn,
	"nod":    synthetic.Nod,
	"absent": synthetic.Absent,
}

// parseScript reads "kind:frames[:value],..." into segments.
func parseScript(s string) ([]synthetic.Segment, error) {
	var segs []synthetic.Segment
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("segment %q: want kind:frames[:value]", part)
		}
		kind, ok := segmentKinds[strings.ToLower(fields[0])]
		if !ok {
			return nil, fmt.Errorf("segment %q: unknown kind %q", part, fields[0])
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("segment %q: invalid frame count", part)
		}
		seg := synthetic.Segment{Kind: kind, Frames: n}
		if len(fields) == 3 {
			if seg.Value, err = strconv.ParseFloat(fields[2], 64); err != nil {
				return nil, fmt.Errorf("segment %q: invalid value: %w", part, err)
			}
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty script")
	}
	return segs, nil
}

// resolveScript returns the script for a scenario name or a literal script.
func resolveScript(scenario, script string) ([]synthetic.Segment, error) {
	if script != "" {
		return parseScript(script)
	}
	s, ok := scenarios[scenario]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", scenario)
	}
	return parseScript(s)
}

// repeat concatenates segs n times.
func repeat(segs []synthetic.Segment, n int) []synthetic.Segment {
	out := make([]synthetic.Segment, 0, len(segs)*n)
	for i := 0; i < n; i++ {
		out = append(out, segs...)
	}
	return out
}

func main() {
	output := flag.String("o", "landmarks.jsonl", "output path")
	scenario := flag.String("scenario", "drowsy", "named scenario: alert, drowsy or absent")
	script := flag.String("script", "", "literal script kind:frames[:value],... (overrides -scenario)")
	repeats := flag.Int("n", 1, "number of times to repeat the script")
	fps := flag.Float64("fps", 30, "frame rate used for timestamps")
	noise := flag.Float64("noise", 0.4, "landmark noise in pixels")
	seed := flag.Uint64("seed", 1, "noise seed")
	configPath := flag.String("config", "", "tuning config supplying the camera model")
	flag.Parse()

	segs, err := resolveScript(*scenario, *script)
	if err != nil {
		log.Fatalf("invalid script: %v", err)
	}
	if *repeats < 1 {
		log.Fatalf("-n must be at least 1")
	}

	cam := l2metrics.DefaultCameraModel()
	if *configPath != "" {
		cfg, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cam = l2metrics.NewCameraModel(cfg.GetCameraMatrix(), cfg.GetDistCoeffs())
	}

	gen := synthetic.New(cam, *noise, *seed)
	frames := gen.Script(time.Now(), *fps, synthetic.DefaultFace(), repeat(segs, *repeats))

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	w := bufio.NewWriter(f)
	for _, fr := range frames {
		line, err := fr.MarshalLine()
		if err != nil {
			log.Fatalf("failed to encode frame %d: %v", fr.Seq, err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("failed to write output: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("failed to close output: %v", err)
	}
	log.Printf("✓ Created: %s (%d frames, %.1fs at %.0f fps)", *output, len(frames), float64(len(frames)) / *fps, *fps)
}
