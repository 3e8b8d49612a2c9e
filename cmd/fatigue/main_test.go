package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/fatigue.report/internal/db"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
	"github.com/banshee-data/fatigue.report/internal/serialmux"
)

func TestEnvName(t *testing.T) {
	tests := map[string]string{
		"listen":         "FATIGUE_LISTEN",
		"grpc":           "FATIGUE_GRPC",
		"replay-loop":    "FATIGUE_REPLAY_LOOP",
		"webhook-events": "FATIGUE_WEBHOOK_EVENTS",
	}
	for in, want := range tests {
		if got := envName(in); got != want {
			t.Errorf("envName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	listen := fs.String("listen", ":8080", "")
	grpc := fs.String("grpc", "", "")
	loop := fs.Bool("replay-loop", false, "")
	fpsFlag := fs.Int("fps", 30, "")
	if err := fs.Parse([]string{"-listen", ":9000"}); err != nil {
		t.Fatal(err)
	}

	env := map[string]string{
		"FATIGUE_LISTEN":      ":7000", // command line wins
		"FATIGUE_GRPC":        "localhost:50061",
		"FATIGUE_REPLAY_LOOP": "true",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	if err := applyEnv(fs, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if *listen != ":9000" {
		t.Errorf("listen = %q, want command-line value", *listen)
	}
	if *grpc != "localhost:50061" {
		t.Errorf("grpc = %q", *grpc)
	}
	if !*loop {
		t.Error("replay-loop not set from environment")
	}
	if *fpsFlag != 30 {
		t.Errorf("fps = %d, want default", *fpsFlag)
	}
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("fps", 30, "")
	fs.Bool("synthetic", false, "")
	env := map[string]string{"FATIGUE_FPS": "fast", "FATIGUE_SYNTHETIC": "maybe"}
	err := applyEnv(fs, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"FATIGUE_FPS", "FATIGUE_SYNTHETIC"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestDefaultFlags(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("listen default = %q", *listen)
	}
	if *dbPath != db.MemoryPath {
		t.Errorf("db default = %q, want in-memory journal", *dbPath)
	}
	if *fps != serialmux.DefaultFrameRate {
		t.Errorf("fps default = %d", *fps)
	}
	if *grpcListen != "" || *webhook != "" || *plotsDir != "" {
		t.Error("optional sinks should be disabled by default")
	}
}

func TestLoadTuning(t *testing.T) {
	cfg, err := loadTuning("")
	if err != nil {
		t.Fatalf("loadTuning: %v", err)
	}
	if cfg.GetEyeARThresh() != 0.2 {
		t.Errorf("EAR threshold = %v, want built-in default", cfg.GetEyeARThresh())
	}
	if _, err := loadTuning("does-not-exist.json"); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestOpenFeed(t *testing.T) {
	t.Cleanup(func() { *port, *replay, *syntheticFeed = "", "", false })

	f, err := openFeed()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.mux.(*serialmux.DisabledSerialMux); !ok {
		t.Errorf("no source should give the disabled feed, got %T", f.mux)
	}
	f.mux.Close()

	*syntheticFeed = true
	f, err = openFeed()
	if err != nil {
		t.Fatal(err)
	}
	if f.finite || f.capture != "" {
		t.Errorf("synthetic feed = %+v", f)
	}
	f.mux.Close()

	*replay = "capture.jsonl"
	if _, err := openFeed(); err == nil {
		t.Error("expected error when -replay and -synthetic are both set")
	}
}

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() { monitoring.SetLogWriters(nil, nil, nil) })

	var buf bytes.Buffer
	configureLogging(&buf, 0)
	monitoring.Opsf("ops")
	monitoring.Diagf("diag")
	if !strings.Contains(buf.String(), "ops") || strings.Contains(buf.String(), "diag") {
		t.Errorf("verbosity 0 output: %q", buf.String())
	}

	buf.Reset()
	configureLogging(&buf, 2)
	monitoring.Tracef("trace")
	if !strings.Contains(buf.String(), "trace") {
		t.Errorf("verbosity 2 output: %q", buf.String())
	}
}

func TestRunFeed_FiniteReplayDrainsIntoSession(t *testing.T) {
	const n = 40
	var buf bytes.Buffer
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		line, err := l1landmarks.NoFace(uint64(i+1), start.Add(time.Duration(i)*time.Second/30)).MarshalLine()
		if err != nil {
			t.Fatal(err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	mux, err := serialmux.NewReplaySerialMux(path, 400, false)
	if err != nil {
		t.Fatal(err)
	}
	defer mux.Close()
	session, err := pipeline.NewSession(pipeline.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// A small queue keeps frames waiting in both the subscriber and the
	// session channel when the capture runs out.
	frames := make(chan l1landmarks.Frame, 2)
	runFeed(gctx, g, feedSource{mux: mux, capture: path, finite: true}, frames)
	g.Go(func() error { return session.Run(gctx, frames) })

	if err := g.Wait(); err != nil {
		t.Fatalf("replay returned %v, want nil once drained", err)
	}
	if ctx.Err() != nil {
		t.Fatal("replay did not finish before the deadline")
	}
	st := session.Status()
	if st.Stats.Frames != n || st.Stats.NoFace != n {
		t.Errorf("session saw %d frames (%d without a face), want %d", st.Stats.Frames, st.Stats.NoFace, n)
	}
	if _, ok := <-frames; ok {
		t.Error("frames channel should be closed after the replay")
	}
}
