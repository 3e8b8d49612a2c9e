package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l3events"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l5score"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// NotificationKind separates debounced events from periodic alerts.
type NotificationKind string

const (
	KindEvent NotificationKind = "event"
	KindAlert NotificationKind = "alert"
)

// Notification is one human-readable, timestamped message for the
// operator.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Event    string           `json:"event,omitempty"`    // blink, yawn, nod, no_face
	Severity string           `json:"severity,omitempty"` // alerts only
	Score    int              `json:"score"`
	At       time.Time        `json:"at"`
	Message  string           `json:"message"`
}

// EventNotification wraps a detector event.
func EventNotification(ev l3events.Event, score int) Notification {
	return Notification{
		Kind:    KindEvent,
		Event:   ev.Kind.String(),
		Score:   score,
		At:      ev.At,
		Message: ev.Message,
	}
}

// AlertNotification wraps a severity alert.
func AlertNotification(a l5score.Alert) Notification {
	return Notification{
		Kind:     KindAlert,
		Severity: a.Severity.String(),
		Score:    a.Score,
		At:       a.At,
		Message:  a.Message,
	}
}

// Notifier receives notifications.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// MultiNotifier fans a notification out to every member in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notification) {
	for _, sink := range m {
		sink.Notify(n)
	}
}

// LogNotifier writes notifications to monitoring.Logf.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	monitoring.Logf("[notify] %s", n.Message)
}

// AsyncNotifier decouples producers from a slow sink. Notify never
// blocks: when the queue is full the new notification is dropped and
// counted. Run delivers queued notifications to the sink.
type AsyncNotifier struct {
	sink      Notifier
	queue     chan Notification
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewAsyncNotifier returns a notifier with the given queue capacity.
func NewAsyncNotifier(sink Notifier, buffer int) *AsyncNotifier {
	if buffer < 0 {
		buffer = 0
	}
	return &AsyncNotifier{sink: sink, queue: make(chan Notification, buffer)}
}

func (a *AsyncNotifier) Notify(n Notification) {
	select {
	case a.queue <- n:
	default:
		// queue full: drop so the frame path never blocks
		if d := a.dropped.Add(1); d == 1 || d%100 == 0 {
			monitoring.Opsf("[notify] queue full, %d notification(s) dropped", d)
		}
	}
}

// Run delivers notifications until ctx is cancelled, then flushes what is
// already queued and returns.
func (a *AsyncNotifier) Run(ctx context.Context) {
	for {
		select {
		case n := <-a.queue:
			a.deliver(n)
		case <-ctx.Done():
			for {
				select {
				case n := <-a.queue:
					a.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncNotifier) deliver(n Notification) {
	if a.sink != nil {
		a.sink.Notify(n)
	}
	a.delivered.Add(1)
}

// Dropped returns how many notifications were discarded.
func (a *AsyncNotifier) Dropped() uint64 { return a.dropped.Load() }

// Delivered returns how many notifications reached the sink.
func (a *AsyncNotifier) Delivered() uint64 { return a.delivered.Load() }

// Pending returns the current queue depth.
func (a *AsyncNotifier) Pending() int { return len(a.queue) }
