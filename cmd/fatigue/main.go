// Command fatigue runs a driver fatigue session: landmark frames from a
// serial detector, a replay file, the synthetic generator or the websocket
// ingest endpoint are scored, journalled and published over HTTP,
// websocket and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/fatigue.report/internal/api"
	"github.com/banshee-data/fatigue.report/internal/config"
	"github.com/banshee-data/fatigue.report/internal/db"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/fatigue/publisher"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
	"github.com/banshee-data/fatigue.report/internal/report"
	"github.com/banshee-data/fatigue.report/internal/serialmux"
	"github.com/banshee-data/fatigue.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	port          = flag.String("port", "", "Serial port of the landmark detector")
	baud          = flag.Int("baud", 0, "Serial baud rate (0 = default)")
	replay        = flag.String("replay", "", "Replay a JSONL landmark capture instead of a serial port")
	replayLoop    = flag.Bool("replay-loop", false, "Restart the replay after its last frame")
	syntheticFeed = flag.Bool("synthetic", false, "Feed generated frames (no hardware needed)")
	fps           = flag.Int("fps", serialmux.DefaultFrameRate, "Frame rate requested from the detector or used for replay")
	seed          = flag.Uint64("seed", 1, "Noise seed for -synthetic")
	configFile    = flag.String("config", "", "Tuning config JSON (empty uses built-in defaults)")
	dbPath        = flag.String("db", db.MemoryPath, "Journal sqlite path")
	grpcListen    = flag.String("grpc", "", "gRPC status stream listen address (empty disables)")
	webhook       = flag.String("webhook", "", "Emergency contact webhook URL (empty disables)")
	webhookAll    = flag.Bool("webhook-events", false, "Post events as well as alerts to the webhook")
	plotsDir      = flag.String("plots", "", "Write session plots under this directory on shutdown")
	verbosity     = flag.Int("v", 0, "Log verbosity: 0 ops, 1 diag, 2 trace")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// envPrefix prefixes the environment fallbacks, so -grpc reads
// FATIGUE_GRPC and -replay-loop reads FATIGUE_REPLAY_LOOP.
const envPrefix = "FATIGUE_"

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnv sets every flag not given on the command line from its
// environment variable, when present.
func applyEnv(flags *flag.FlagSet, lookup func(string) (string, bool)) error {
	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var errs []error
	flags.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		v, ok := lookup(envName(f.Name))
		if !ok {
			return
		}
		if err := flags.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envName(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

// configureLogging enables the ops stream always and the diag and trace
// streams by verbosity.
func configureLogging(w io.Writer, v int) {
	var diag, trace io.Writer
	if v >= 1 {
		diag = w
	}
	if v >= 2 {
		trace = w
	}
	monitoring.SetLogWriters(w, diag, trace)
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// feedSource describes where frames come from.
type feedSource struct {
	mux serialmux.SerialMuxInterface
	// capture is the replay file, used to name the plot directory.
	capture string
	// finite feeds end the process when they run out.
	finite bool
}

func openFeed() (feedSource, error) {
	selected := 0
	for _, on := range []bool{*port != "", *replay != "", *syntheticFeed} {
		if on {
			selected++
		}
	}
	if selected > 1 {
		return feedSource{}, fmt.Errorf("-port, -replay and -synthetic are mutually exclusive")
	}

	switch {
	case *port != "":
		mux, err := serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud, FrameRate: *fps})
		if err != nil {
			return feedSource{}, err
		}
		return feedSource{mux: mux}, nil
	case *replay != "":
		mux, err := serialmux.NewReplaySerialMux(*replay, *fps, *replayLoop)
		if err != nil {
			return feedSource{}, err
		}
		return feedSource{mux: mux, capture: *replay, finite: !*replayLoop}, nil
	case *syntheticFeed:
		mux, err := serialmux.NewSyntheticSerialMux(*fps, *seed)
		if err != nil {
			return feedSource{}, err
		}
		return feedSource{mux: mux}, nil
	}
	log.Printf("[feed] no detector configured, accepting frames on /ws/landmarks only")
	return feedSource{mux: serialmux.NewDisabledSerialMux()}, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}
	flag.Parse()
	if err := applyEnv(flag.CommandLine, os.LookupEnv); err != nil {
		log.Fatalf("invalid environment: %v", err)
	}

	if *showVersion {
		fmt.Println(version.Current())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	configureLogging(os.Stderr, *verbosity)
	log.Printf("fatigue %s", version.Current())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("fatigue: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func run(ctx context.Context) error {
	tuning, err := loadTuning(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	session, err := pipeline.NewSession(pipeline.ConfigFromTuning(tuning))
	if err != nil {
		return err
	}
	session.AddNotifier(pipeline.LogNotifier{})

	journal, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()
	j := db.NewJournal(journal, session.ID())
	session.AddNotifier(j)
	session.AddCycleObserver(j)

	if *webhook != "" {
		session.AddNotifier(api.NewWebhookNotifier(*webhook, !*webhookAll))
		log.Printf("[notify] posting notifications to %s (events: %v)", *webhook, *webhookAll)
	}

	feed, err := openFeed()
	if err != nil {
		return fmt.Errorf("failed to open feed: %w", err)
	}
	defer feed.mux.Close()
	if err := feed.mux.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize detector: %w", err)
	}

	var plotter *report.SessionPlotter
	if *plotsDir != "" {
		ev := session.Config().Events
		plotter = report.NewSessionPlotter(report.Thresholds{EAR: ev.EyeARThresh, MAR: ev.MouthARThresh, Pitch: ev.HeadPitchThresh})
		if err := plotter.Start(report.MakePlotOutputDir(*plotsDir, feed.capture, time.Now())); err != nil {
			return err
		}
		session.AddFrameObserver(plotter)
		session.AddCycleObserver(plotter)
	}

	if *grpcListen != "" {
		cfg := publisher.DefaultConfig()
		cfg.ListenAddr = *grpcListen
		pub := publisher.NewPublisher(cfg)
		if err := pub.Start(); err != nil {
			return fmt.Errorf("failed to start gRPC publisher: %w", err)
		}
		defer pub.Stop()
		session.AddCycleObserver(pub)
	}

	frames := make(chan l1landmarks.Frame, serialmux.SubscriberBuffer)
	// A finite feed owns frames and closes it when the replay ends, so
	// websocket ingest is only offered for open-ended feeds.
	var ingest chan<- l1landmarks.Frame
	if !feed.finite {
		ingest = frames
	}
	srv := api.NewServer(session, journal, feed.mux, ingest)
	defer srv.Close()
	session.AddCycleObserver(srv)

	mux := srv.ServeMux()
	feed.mux.AttachAdminRoutes(mux)
	journal.AttachAdminRoutes(mux)
	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	g, gctx := errgroup.WithContext(ctx)

	runFeed(gctx, g, feed, frames)

	g.Go(func() error {
		err := session.Run(gctx, frames)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil && feed.finite {
			log.Print("[feed] replay finished")
			return errReplayDone
		}
		return err
	})

	g.Go(func() error {
		log.Printf("[http] listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down HTTP server...")
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errReplayDone) {
		err = nil
	}

	st := session.Status()
	log.Printf("[session] %s final score %d (%s): %d blinks, %d yawns, %d nods, %d no-driver",
		st.SessionID, st.Score, st.Severity, st.Totals.Blinks, st.Totals.Yawns, st.Totals.Nods, st.Totals.NoDriver)
	if n := j.Failures(); n > 0 {
		log.Printf("[journal] %d writes failed", n)
	}

	if plotter != nil {
		plotter.Stop()
		n, perr := plotter.GeneratePlots()
		if perr != nil {
			log.Printf("[report] failed to generate plots: %v", perr)
		} else {
			log.Printf("[report] wrote %d plots to %s", n, plotter.OutputDir())
		}
	}
	return err
}

// errReplayDone ends the errgroup once the session has drained a one-shot
// replay.
var errReplayDone = errors.New("replay finished")

// runFeed starts the detector monitor and the line parser on g. The parser
// subscribes before the monitor reads its first line. A finite feed closes
// its mux when the port runs dry; the parser then forwards the lines still
// queued and closes out, so the session drains and stops on its own.
func runFeed(ctx context.Context, g *errgroup.Group, feed feedSource, out chan<- l1landmarks.Frame) {
	id, lines := feed.mux.Subscribe()

	// run the monitor routine to manage IO on the detector port
	g.Go(func() error {
		err := feed.mux.Monitor(ctx)
		log.Print("[feed] monitor routine terminated")
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("monitor: %w", err)
		}
		if feed.finite && err == nil {
			log.Print("[feed] capture exhausted, draining queued lines")
			feed.mux.Close()
		}
		return nil
	})

	g.Go(func() error {
		defer feed.mux.Unsubscribe(id)
		if feed.finite {
			defer close(out)
		}
		var f serialmux.Feed
		err := f.Forward(ctx, lines, out)
		log.Printf("[feed] %d frames, %d malformed, %d status, %d acks, %d unknown",
			f.Stats.Frames.Load(), f.Stats.Malformed.Load(), f.Stats.Status.Load(), f.Stats.Acks.Load(), f.Stats.Unknown.Load())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
