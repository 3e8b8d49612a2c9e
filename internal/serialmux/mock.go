package serialmux

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
	"github.com/banshee-data/fatigue.report/internal/fatigue/synthetic"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// PacedPort is a SerialPorter that emits detector lines at a fixed frame
// rate. Frames are restamped with a running sequence number and the wall
// clock so replays and synthetic feeds look live. Commands written to the
// port are recorded and otherwise ignored.
type PacedPort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	stop chan struct{}
	once sync.Once

	mu       sync.Mutex
	commands []string
}

// newPacedPort starts emitting lines from next at fps until next reports
// the end or the port is closed.
func newPacedPort(fps int, next func() (string, bool)) *PacedPort {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	r, w := io.Pipe()
	p := &PacedPort{r: r, w: w, stop: make(chan struct{})}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		var seq uint64
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
			}
			line, ok := next()
			if !ok {
				return
			}
			seq++
			if _, err := io.WriteString(w, restamp(line, seq)+"\n"); err != nil {
				return
			}
		}
	}()
	return p
}

// restamp rewrites seq and timestamp on frame lines. Anything that does
// not parse is passed through untouched.
func restamp(line string, seq uint64) string {
	if ClassifyPayload(line) != EventTypeFrame {
		return line
	}
	f, err := l1landmarks.ParseFrame([]byte(line))
	if err != nil {
		return line
	}
	f.Seq = seq
	f.Timestamp = time.Now()
	out, err := f.MarshalLine()
	if err != nil {
		return line
	}
	return string(out)
}

func (p *PacedPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *PacedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.commands = append(p.commands, strings.TrimSpace(string(b)))
	p.mu.Unlock()
	monitoring.Diagf("[feed] command to paced port ignored: %q", strings.TrimSpace(string(b)))
	return len(b), nil
}

func (p *PacedPort) Close() error {
	p.once.Do(func() {
		close(p.stop)
		p.r.Close()
	})
	return nil
}

// Commands returns every command written to the port.
func (p *PacedPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// NewReplaySerialMux replays a JSONL capture at fps. When loop is set the
// capture restarts after its last line.
func NewReplaySerialMux(path string, fps int, loop bool) (*SerialMux[*PacedPort], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	var lines []string
	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scan.Scan() {
		if line := strings.TrimSpace(scan.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("replay file %s has no frames", path)
	}
	monitoring.Logf("[feed] replaying %d lines from %s at %d fps (loop=%v)", len(lines), path, fps, loop)

	i := 0
	port := newPacedPort(fps, func() (string, bool) {
		if i == len(lines) {
			if !loop {
				return "", false
			}
			i = 0
		}
		line := lines[i]
		i++
		return line, true
	})
	mux := NewSerialMux(port)
	mux.SetFrameRate(fps)
	return mux, nil
}

// SyntheticScript is the loop played by NewSyntheticSerialMux: an alert
// driver who blinks, yawns, nods and briefly leaves the frame.
var SyntheticScript = []synthetic.Segment{
	{Kind: synthetic.Steady, Frames: 60},
	{Kind: synthetic.Blink, Frames: 4},
	{Kind: synthetic.Steady, Frames: 45},
	{Kind: synthetic.Blink, Frames: 5},
	{Kind: synthetic.Steady, Frames: 30},
	{Kind: synthetic.Yawn, Frames: 45},
	{Kind: synthetic.Steady, Frames: 45},
	{Kind: synthetic.Nod, Frames: 10},
	{Kind: synthetic.Steady, Frames: 30},
	{Kind: synthetic.Absent, Frames: 12},
}

// NewSyntheticSerialMux emits generated landmark frames forever. It needs
// no hardware and no capture file.
func NewSyntheticSerialMux(fps int, seed uint64) (*SerialMux[*PacedPort], error) {
	gen := synthetic.New(l2metrics.DefaultCameraModel(), 0.4, seed)
	frames := gen.Script(time.Now(), float64(fps), synthetic.DefaultFace(), SyntheticScript)
	lines := make([]string, 0, len(frames))
	for _, f := range frames {
		b, err := f.MarshalLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, string(b))
	}

	i := 0
	port := newPacedPort(fps, func() (string, bool) {
		line := lines[i%len(lines)]
		i++
		return line, true
	})
	mux := NewSerialMux(port)
	mux.SetFrameRate(fps)
	return mux, nil
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than requested.
	ShortWrite bool

	Closed bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
// Reads block until data is added or the port is closed.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.Closed && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, io.EOF
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n, err := t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}
