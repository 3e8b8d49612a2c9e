package publisher

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l3events"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l4rates"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l5score"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
)

func startBufconn(t *testing.T, cfg Config) (*Publisher, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	p := NewPublisher(cfg)
	require.NoError(t, p.Serve(lis))
	t.Cleanup(p.Stop)

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return p, c
}

func sampleStatus(score int) pipeline.Status {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return pipeline.Status{
		SessionID:     "7d8f",
		StartedAt:     at.Add(-time.Minute),
		At:            at,
		UptimeSeconds: 60,
		Score:         score,
		Severity:      l5score.Classify(score),
		Totals:        l3events.EventTotals{Blinks: 12, Yawns: 2, Nods: 1},
		Rates:         l4rates.RateSnapshot{Blink: 0.4, Window: 5 * time.Second, Start: at.Add(-5 * time.Second), End: at},
		Stats:         pipeline.Stats{Frames: 1800, Cycles: 12},
		LastAlert:     &l5score.Alert{Severity: l5score.Mild, Score: 40, At: at, Message: "mild"},
	}
}

func TestStatusStructRoundTrip(t *testing.T) {
	t.Parallel()
	want := sampleStatus(62)
	s, err := StatusToStruct(want)
	require.NoError(t, err)
	assert.Equal(t, "moderate", s.Fields["severity"].GetStringValue())
	assert.Equal(t, 62.0, s.Fields["score"].GetNumberValue())

	got, err := StatusFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, want.Score, got.Score)
	assert.Equal(t, want.Severity, got.Severity)
	assert.Equal(t, want.Totals, got.Totals)
	assert.Equal(t, want.Rates.Window, got.Rates.Window)
	assert.True(t, want.At.Equal(got.At))
	require.NotNil(t, got.LastAlert)
	assert.Equal(t, l5score.Mild, got.LastAlert.Severity)
}

func TestWatchStreamsStatuses(t *testing.T) {
	t.Parallel()
	p, c := startBufconn(t, DefaultConfig())
	p.Publish(sampleStatus(10)) // latest, delivered on connect

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan pipeline.Status, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Watch(ctx, func(st pipeline.Status) error {
			got <- st
			return nil
		})
	}()

	first := <-got
	assert.Equal(t, 10, first.Score)

	require.Eventually(t, func() bool { return p.Stats().ClientCount == 1 }, time.Second, 5*time.Millisecond)
	p.ObserveCycle(sampleStatus(80))
	second := <-got
	assert.Equal(t, 80, second.Score)
	assert.Equal(t, l5score.Severe, second.Severity)

	cancel()
	err := <-errCh
	assert.Equal(t, codes.Canceled, status.Code(err))
	require.Eventually(t, func() bool { return p.Stats().ClientCount == 0 }, time.Second, 5*time.Millisecond)
}

func TestWatchEndsOnStop(t *testing.T) {
	t.Parallel()
	p, c := startBufconn(t, DefaultConfig())

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Watch(context.Background(), func(pipeline.Status) error { return nil })
	}()
	require.Eventually(t, func() bool { return p.Stats().ClientCount == 1 }, time.Second, 5*time.Millisecond)

	p.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not end on Stop")
	}
	assert.False(t, p.Stats().Running)
}

func TestWatchCallbackErrorStops(t *testing.T) {
	t.Parallel()
	p, c := startBufconn(t, DefaultConfig())
	p.Publish(sampleStatus(5))

	stop := errors.New("enough")
	err := c.Watch(context.Background(), func(pipeline.Status) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestMaxClients(t *testing.T) {
	t.Parallel()
	p, c := startBufconn(t, Config{MaxClients: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Watch(ctx, func(pipeline.Status) error { return nil })
	require.Eventually(t, func() bool { return p.Stats().ClientCount == 1 }, time.Second, 5*time.Millisecond)

	err := c.Watch(context.Background(), func(pipeline.Status) error { return nil })
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPublishDropsWhenSlow(t *testing.T) {
	t.Parallel()
	p := NewPublisher(Config{ClientBuffer: 1})

	// Not running: only the latest status is kept.
	p.Publish(sampleStatus(1))
	assert.Equal(t, uint64(0), p.Stats().Published)
	assert.Equal(t, 1, p.latest.Load().Score)

	// Fill the client queue directly and broadcast.
	c, err := p.addClient()
	require.NoError(t, err)
	assert.Len(t, c.statusCh, 1) // latest delivered on connect

	p.running.Store(true)
	p.wg.Add(1)
	go p.broadcastLoop()
	p.Publish(sampleStatus(2))
	require.Eventually(t, func() bool { return p.Stats().Dropped == 1 }, time.Second, 5*time.Millisecond)

	close(p.stopCh)
	p.wg.Wait()
	p.removeClient(c.id)
	p.removeClient(c.id)
	assert.Equal(t, int32(0), p.Stats().ClientCount)
}

func TestServeTwice(t *testing.T) {
	t.Parallel()
	p, _ := startBufconn(t, DefaultConfig())
	assert.Error(t, p.Serve(bufconn.Listen(1024)))
	assert.NotNil(t, p.Addr())
}

func TestSessionCycleObserver(t *testing.T) {
	t.Parallel()
	p, c := startBufconn(t, DefaultConfig())
	s, err := pipeline.NewSession(pipeline.DefaultConfig())
	require.NoError(t, err)
	s.AddCycleObserver(p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan pipeline.Status, 2)
	go c.Watch(ctx, func(st pipeline.Status) error {
		got <- st
		return nil
	})
	require.Eventually(t, func() bool { return p.Stats().ClientCount == 1 }, time.Second, 5*time.Millisecond)

	score := s.ApplyRates(l4rates.RateSnapshot{Blink: 0.7, Window: 5 * time.Second})
	select {
	case st := <-got:
		assert.Equal(t, s.ID(), st.SessionID)
		assert.Equal(t, score, st.Score)
	case <-ctx.Done():
		t.Fatal("no status received")
	}
}
