package l5score

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity is the fatigue band a score falls into.
type Severity int

const (
	Normal Severity = iota
	Mild
	Moderate
	Severe
)

func (s Severity) String() string {
	switch s {
	case Normal:
		return "normal"
	case Mild:
		return "mild"
	case Moderate:
		return "moderate"
	case Severe:
		return "severe"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(name string) (Severity, error) {
	for _, s := range []Severity{Normal, Mild, Moderate, Severe} {
		if s.String() == name {
			return s, nil
		}
	}
	return Normal, fmt.Errorf("unknown severity %q", name)
}

// Classify maps a score to its band: normal below 30, mild up to and
// including 55, moderate up to and including 75, severe above.
func Classify(score int) Severity {
	switch {
	case score < 30:
		return Normal
	case score <= 55:
		return Mild
	case score <= 75:
		return Moderate
	default:
		return Severe
	}
}

// Message is the operator-facing alert text for the band. Normal has none.
func (s Severity) Message() string {
	switch s {
	case Mild:
		return "Warning: mild fatigue detected, please stay alert!"
	case Moderate:
		return "Warning: moderate fatigue detected, pull over soon if you cannot refocus!"
	case Severe:
		return "Warning: severe fatigue detected, pull over now. Emergency contact notified."
	}
	return ""
}

// Alert is one alert dispatch.
type Alert struct {
	Severity Severity  `json:"severity"`
	Score    int       `json:"score"`
	At       time.Time `json:"at"`
	Message  string    `json:"message"`
}

// Alerter turns periodic score reads into alerts. Every check at mild or
// above produces exactly one alert; the caller owns the cadence.
type Alerter struct {
	count uint64
}

// Check classifies score and returns the alert to dispatch, if any.
func (a *Alerter) Check(score int, now time.Time) (Alert, bool) {
	sev := Classify(score)
	if sev == Normal {
		return Alert{}, false
	}
	a.count++
	return Alert{
		Severity: sev,
		Score:    score,
		At:       now,
		Message:  now.Format("2006-01-02 15:04") + " " + sev.Message(),
	}, true
}

// Count returns how many alerts have been produced.
func (a *Alerter) Count() uint64 { return a.count }
