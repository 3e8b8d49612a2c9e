package l1landmarks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Frame is one observation from the landmark detector. Face is false when
// no face was found in the image, in which case Landmarks is empty.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Face      bool
	Landmarks LandmarkSet
}

// NoFace returns a face-less frame.
func NoFace(seq uint64, ts time.Time) Frame {
	return Frame{Seq: seq, Timestamp: ts}
}

// wireFrame is the line-delimited JSON representation:
//
//	{"seq":12,"ts_ms":1760790000123,"face":true,"points":[[x,y],...]}
type wireFrame struct {
	Seq    uint64       `json:"seq"`
	TsMs   int64        `json:"ts_ms,omitempty"`
	Face   *bool        `json:"face,omitempty"`
	Points [][2]float64 `json:"points,omitempty"`
}

// ParseFrame decodes one JSON frame. A missing "face" field is inferred
// from the presence of points. The point count is not checked here; an
// incomplete set is rejected later by geometry extraction so it can be
// counted as malformed input.
func ParseFrame(line []byte) (Frame, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Frame{}, fmt.Errorf("empty frame")
	}

	var wf wireFrame
	if err := json.Unmarshal(line, &wf); err != nil {
		return Frame{}, fmt.Errorf("failed to parse frame: %w", err)
	}

	f := Frame{Seq: wf.Seq}
	if wf.TsMs > 0 {
		f.Timestamp = time.UnixMilli(wf.TsMs)
	}
	if len(wf.Points) > 0 {
		f.Landmarks = make(LandmarkSet, len(wf.Points))
		for i, p := range wf.Points {
			f.Landmarks[i] = Point{X: p[0], Y: p[1]}
		}
	}
	if wf.Face != nil {
		f.Face = *wf.Face
	} else {
		f.Face = len(f.Landmarks) > 0
	}
	if !f.Face {
		f.Landmarks = nil
	}
	return f, nil
}

// MarshalLine encodes the frame in the wire format without a trailing
// newline.
func (f Frame) MarshalLine() ([]byte, error) {
	face := f.Face
	wf := wireFrame{Seq: f.Seq, Face: &face}
	if !f.Timestamp.IsZero() {
		wf.TsMs = f.Timestamp.UnixMilli()
	}
	if f.Face {
		wf.Points = make([][2]float64, len(f.Landmarks))
		for i, p := range f.Landmarks {
			wf.Points[i] = [2]float64{p.X, p.Y}
		}
	}
	return json.Marshal(wf)
}
