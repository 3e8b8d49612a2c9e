package l5score

import (
	"github.com/banshee-data/fatigue.report/internal/fatigue/l4rates"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// ApplyRates folds one window's rates (events per second) into score.
// The score is clamped before and after; the three bands are applied in
// sequence to the same unclamped running value.
func ApplyRates(score int, blink, yawn, nod float64) int {
	score = Clamp(score)
	score += blinkDelta(score, blink)
	score += yawnDelta(score, yawn)
	score += nodDelta(score, nod)
	return Clamp(score)
}

// Apply is ApplyRates for a sampled snapshot.
func Apply(score int, r l4rates.RateSnapshot) int {
	return ApplyRates(score, r.Blink, r.Yawn, r.Nod)
}

// The blink bands are open intervals; rates of exactly 0.47, in
// [0.61, 0.62] and in [0.95, 0.96] fall through every case.
func blinkDelta(score int, rate float64) int {
	switch {
	case rate > 0.47 && rate < 0.61:
		return 10
	case rate > 0.62 && rate < 0.95:
		return 15
	case rate > 0.96:
		return 20
	case rate < 0.47 && score >= 0:
		return -5
	}
	return 0
}

func yawnDelta(score int, rate float64) int {
	switch {
	case rate >= 0.2 && rate <= 0.4:
		return 10
	case rate > 0.4 && rate <= 0.6:
		return 15
	case rate > 0.6:
		return 20
	case rate < 0.2 && score >= 0:
		return -10
	}
	return 0
}

func nodDelta(score int, rate float64) int {
	switch {
	case rate >= 0.2 && rate <= 0.4:
		return 15
	case rate > 0.4 && rate <= 0.6:
		return 20
	case rate > 0.6:
		return 25
	case rate < 0.2 && score >= 0:
		return -20
	}
	return 0
}
