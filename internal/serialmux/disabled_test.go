package serialmux

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
)

var _ SerialMuxInterface = (*DisabledSerialMux)(nil)

func TestDisabledSerialMux_CloseEndsFeed(t *testing.T) {
	d := NewDisabledSerialMux()
	var feed Feed
	out := make(chan l1landmarks.Frame)

	done := make(chan error, 1)
	go func() { done <- feed.Run(context.Background(), d, out) }()

	// Let the feed subscribe before closing.
	time.Sleep(10 * time.Millisecond)
	if err := d.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("feed returned %v, want nil after Close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("feed did not stop after Close")
	}

	// Subscribing after Close returns a closed channel; a second Close is a no-op.
	_, ch := d.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestDisabledSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed on unsubscribe")
	}
	d.Unsubscribe(id) // unknown id is a no-op
}

func TestDisabledSerialMux_MonitorWaitsForContext(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Monitor returned %v", err)
	}
	if err := d.Initialize(); err != nil {
		t.Errorf("Initialize returned %v", err)
	}
}

func TestDisabledSerialMux_MonitorEndsOnClose(t *testing.T) {
	d := NewDisabledSerialMux()
	done := make(chan error, 1)
	go func() { done <- d.Monitor(context.Background()) }()

	d.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor returned %v after Close, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}
}

func TestDisabledSerialMux_AdminRoute(t *testing.T) {
	d := NewDisabledSerialMux()
	d.Subscribe()
	if err := d.SendCommand("FPS 10"); err != nil {
		t.Errorf("SendCommand returned %v", err)
	}
	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/feed", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got feedState
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := feedState{Detector: "disabled", Subscribers: 1, IgnoredCommands: 1}
	if got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}
}
