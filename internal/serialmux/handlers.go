package serialmux

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// DeviceState holds the latest status values reported by the detector.
type DeviceState struct {
	mu     sync.Mutex
	values map[string]any
}

// Merge folds one status report into the state.
func (d *DeviceState) Merge(report map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]any)
	}
	maps.Copy(d.values, report)
}

// Snapshot returns a copy of the current state.
func (d *DeviceState) Snapshot() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.values)
}

// FeedStats counts lines by outcome.
type FeedStats struct {
	Frames    atomic.Uint64
	Malformed atomic.Uint64
	Status    atomic.Uint64
	Acks      atomic.Uint64
	Unknown   atomic.Uint64
}

// Feed turns detector lines into frames.
type Feed struct {
	State DeviceState
	Stats FeedStats
}

// HandleStatus merges a JSON status report into the device state.
func (f *Feed) HandleStatus(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %v", err)
	}
	f.State.Merge(values)
	monitoring.Diagf("[feed] status: %s", payload)
	return nil
}

// HandleLine classifies one line. It returns the parsed frame and true for
// frame lines.
func (f *Feed) HandleLine(payload string) (l1landmarks.Frame, bool, error) {
	switch ClassifyPayload(payload) {
	case EventTypeFrame:
		frame, err := l1landmarks.ParseFrame([]byte(payload))
		if err != nil {
			f.Stats.Malformed.Add(1)
			return l1landmarks.Frame{}, false, fmt.Errorf("failed to handle frame: %w", err)
		}
		f.Stats.Frames.Add(1)
		return frame, true, nil
	case EventTypeStatus:
		f.Stats.Status.Add(1)
		if err := f.HandleStatus(payload); err != nil {
			return l1landmarks.Frame{}, false, fmt.Errorf("failed to handle status report: %w", err)
		}
	case EventTypeAck:
		f.Stats.Acks.Add(1)
		if strings.HasPrefix(strings.TrimSpace(payload), "ERR") {
			monitoring.Opsf("[feed] detector rejected command: %s", payload)
		}
	default:
		f.Stats.Unknown.Add(1)
		monitoring.Tracef("[feed] unknown line: %s", payload)
	}
	return l1landmarks.Frame{}, false, nil
}

// Run subscribes to mux and forwards parsed frames to out until ctx is
// cancelled or the mux closes the subscription. Sending to out blocks, so
// a slow consumer backs up into the subscriber queue, where the mux drops
// lines instead of stalling the port.
func (f *Feed) Run(ctx context.Context, mux SerialMuxInterface, out chan<- l1landmarks.Frame) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	return f.Forward(ctx, lines, out)
}

// Forward parses lines from an existing subscription until it is closed,
// which returns nil, or ctx is cancelled. Lines still queued when the
// subscription closes are forwarded first.
func (f *Feed) Forward(ctx context.Context, lines <-chan string, out chan<- l1landmarks.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			frame, isFrame, err := f.HandleLine(line)
			if err != nil {
				monitoring.Opsf("[feed] %v", err)
				continue
			}
			if !isFrame {
				continue
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
