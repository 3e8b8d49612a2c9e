package serialmux

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/fatigue.report/internal/httputil"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// DisabledSerialMux stands in for the detector when none is attached and
// landmarks arrive over the websocket ingest instead. Subscribers never
// receive a line; their channels close on Unsubscribe or Close so a feed
// parser blocked on them returns.
type DisabledSerialMux struct {
	mu     sync.Mutex
	subs   map[string]chan string
	closed chan struct{}
	once   sync.Once

	ignored atomic.Uint64
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subs:   make(map[string]chan string),
		closed: make(chan struct{}),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closed:
		close(ch)
	default:
		d.subs[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subs[id]; ok {
		close(ch)
		delete(d.subs, id)
	}
}

// SendCommand accepts and drops the command; there is no detector to
// configure.
func (d *DisabledSerialMux) SendCommand(command string) error {
	d.ignored.Add(1)
	monitoring.Diagf("[feed] no detector, dropping command %q", command)
	return nil
}

// Monitor blocks until ctx is cancelled or the mux is closed.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closed:
		return nil
	}
}

func (d *DisabledSerialMux) Close() error {
	d.once.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		close(d.closed)
		for id, ch := range d.subs {
			close(ch)
			delete(d.subs, id)
		}
	})
	return nil
}

func (d *DisabledSerialMux) Initialize() error { return nil }

// feedState is served at /debug/feed.
type feedState struct {
	Detector        string `json:"detector"`
	Subscribers     int    `json:"subscribers"`
	IgnoredCommands uint64 `json:"ignored_commands"`
}

func (d *DisabledSerialMux) state() feedState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return feedState{Detector: "disabled", Subscribers: len(d.subs), IgnoredCommands: d.ignored.Load()}
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("feed", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, d.state())
	})
}
