package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestLogStreams(t *testing.T) {
	defer SetLogWriters(nil, nil, nil)

	var ops, diag bytes.Buffer
	SetLogWriters(&ops, &diag, nil)

	Opsf("dropped %d notifications", 3)
	Diagf("cycle score=%d", 40)
	Tracef("frame %d", 7) // disabled stream, must not panic

	if !strings.Contains(ops.String(), "dropped 3 notifications") {
		t.Errorf("ops stream = %q", ops.String())
	}
	if !strings.Contains(diag.String(), "cycle score=40") {
		t.Errorf("diag stream = %q", diag.String())
	}
	if strings.Contains(ops.String(), "cycle") || strings.Contains(diag.String(), "dropped") {
		t.Error("streams leaked into each other")
	}
}

func TestLogStreamsDisabledByDefault(t *testing.T) {
	SetLogWriters(nil, nil, nil)
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("disabled stream panicked: %v", r)
		}
	}()
	Opsf("nothing")
	Diagf("nothing")
	Tracef("nothing")
}
