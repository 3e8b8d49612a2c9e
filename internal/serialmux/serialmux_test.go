package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("OK\n{\"seq\":1}\n"))

	for _, ch := range []chan string{a, b} {
		for _, want := range []string{"OK", `{"seq":1}`} {
			select {
			case got := <-ch:
				if got != want {
					t.Errorf("got %q, want %q", got, want)
				}
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop on cancel")
	}
}

func TestSerialMux_MonitorReturnsNilAtEOF(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	port.AddReadData([]byte("OK\n"))
	port.Close()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Errorf("Monitor returned %v at EOF", err)
	}
}

func TestSerialMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, slow := mux.Subscribe()

	var sb strings.Builder
	for i := 0; i < SubscriberBuffer*2; i++ {
		sb.WriteString("OK\n")
	}
	port.AddReadData([]byte(sb.String()))
	port.Close()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Monitor blocked on a full subscriber")
	}
	if len(slow) != SubscriberBuffer {
		t.Errorf("subscriber queue holds %d lines, want %d", len(slow), SubscriberBuffer)
	}
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	mux.SetFrameRate(15)
	mux.SetFrameRate(0) // ignored

	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize returned %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(port.GetWrittenData(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d commands, want 4: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "CLK ") {
		t.Errorf("first command = %q, want clock sync", lines[0])
	}
	want := []string{"FMT JSON", "LM 68", "FPS 15"}
	for i, w := range want {
		if lines[i+1] != w {
			t.Errorf("command %d = %q, want %q", i+1, lines[i+1], w)
		}
	}
}

func TestSerialMux_InitializeWriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("boom")
	mux := NewSerialMux(port)

	err := mux.Initialize()
	if err == nil || !strings.Contains(err.Error(), "synchronize clock") {
		t.Errorf("Initialize returned %v", err)
	}
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("FPS 10"); err != nil {
		t.Fatal(err)
	}
	if err := mux.SendCommand("FMT JSON\n"); err != nil {
		t.Fatal(err)
	}
	if got := port.GetWrittenData(); got != "FPS 10\nFMT JSON\n" {
		t.Errorf("written %q", got)
	}

	port.ShortWrite = true
	if err := mux.SendCommand("LM 68"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("short write returned %v, want ErrWriteFailed", err)
	}
}

func TestSerialMux_CloseClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	id, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel to be closed")
	}
	if !port.Closed {
		t.Error("expected port to be closed")
	}
	mux.Unsubscribe(id) // already gone
}
