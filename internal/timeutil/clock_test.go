package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_AdvanceAndSince(t *testing.T) {
	c := NewMockClock(epoch)
	c.Advance(5 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
		t.Errorf("Now() = %v", got)
	}
	if got := c.Since(epoch); got != 5*time.Second {
		t.Errorf("Since() = %v, want 5s", got)
	}
}

func TestMockClock_Timer(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-timer.C():
		if !got.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if timer.Stop() {
		t.Error("Stop() after firing should report inactive")
	}
}

func TestMockTimer_ResetMovesDeadline(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)
	c.Advance(500 * time.Millisecond)

	if !timer.Reset(2 * time.Second) {
		t.Error("Reset on an active timer should report true")
	}
	c.Advance(time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired at its old deadline")
	default:
	}
	c.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at its new deadline")
	}
}

func TestMockClock_TickerDropsWhenBehind(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(time.Second)
	c.Advance(time.Second)
	c.Advance(time.Second)

	n := 0
	for {
		select {
		case <-ticker.C():
			n++
			continue
		default:
		}
		break
	}
	if n != 1 {
		t.Errorf("buffered ticks = %d, want 1", n)
	}
}

func TestMockClock_BlockUntil(t *testing.T) {
	c := NewMockClock(epoch)
	done := make(chan struct{})
	go func() {
		timer := c.NewTimer(time.Minute)
		<-timer.C()
		close(done)
	}()

	c.BlockUntil(1)
	if c.Armed() != 1 {
		t.Fatalf("Armed() = %d, want 1", c.Armed())
	}
	c.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiting goroutine was not released")
	}
	if c.Armed() != 0 {
		t.Errorf("Armed() after firing = %d, want 0", c.Armed())
	}
}

func TestMockTicker_Stop(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(2 * time.Second)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
	if c.Armed() != 0 {
		t.Errorf("Armed() = %d, want 0", c.Armed())
	}
}
