package arc

import (
	"math"
	"time"
)

// Scores holds the derived relevance metrics stored on every page row.
type Scores struct {
	AccessFrequency float64
	RecencyScore    float64
	ARCScore        float64
}

// Frequency normalizes visits per day since the first visit. Five visits a
// day saturates the score at 1.0.
func Frequency(visitCount int64, firstVisited, now time.Time) float64 {
	if visitCount <= 0 {
		return 0
	}
	daysActive := math.Floor(now.Sub(firstVisited).Hours() / 24)
	if daysActive < 1 {
		daysActive = 1
	}
	perDay := float64(visitCount) / daysActive
	return math.Min(perDay/5.0, 1.0)
}

// Recency decays exponentially with a 24-hour half life, floored at 0.01 so
// old pages keep a nonzero pulse.
func Recency(lastVisited, now time.Time) float64 {
	if lastVisited.IsZero() {
		return 1.0
	}
	hoursSince := now.Sub(lastVisited).Hours()
	decay := math.Pow(0.5, hoursSince/24.0)
	return math.Max(decay, 0.01)
}

// Compute derives the full score set for a page's visit history.
// arc_score = 0.6*frequency + 0.4*recency.
func Compute(visitCount int64, firstVisited, lastVisited, now time.Time) Scores {
	freq := Frequency(visitCount, firstVisited, now)
	rec := Recency(lastVisited, now)
	return Scores{
		AccessFrequency: freq,
		RecencyScore:    rec,
		ARCScore:        0.6*freq + 0.4*rec,
	}
}
