// Package analyzer turns a room's round history into a trend/probability
// prediction. All functions are pure; callers own locking and scheduling.
package analyzer

import (
	"math"
	"time"

	"aviamon/internal/market"
)

const (
	// minRounds is the history floor below which predictions fall back to
	// the insufficient-data shape.
	minRounds = 10

	// windowSize bounds the recent window used for trend and probability.
	windowSize = 30

	maxProbability = 0.95
)

// Predict analyzes the room's rounds (oldest-first) and returns a
// prediction stamped at the given time.
//
// With fewer than 10 rounds the result is the fixed fallback: trend
// INSUFFICIENT_DATA, confidence 0.2, every target at 0.1.
func Predict(p market.Profile, rounds []market.Round, at time.Time) market.Prediction {
	if len(rounds) < minRounds {
		probs := make(map[float64]float64, len(market.Targets))
		for _, target := range market.Targets {
			probs[target] = 0.1
		}
		return market.Prediction{
			Room:          p.ID,
			Trend:         market.TrendInsufficientData,
			Confidence:    0.2,
			Volatility:    0,
			RecentHigh:    0,
			Probabilities: probs,
			At:            at,
		}
	}

	window := recentWindow(rounds)

	probs := make(map[float64]float64, len(market.Targets))
	for _, target := range market.Targets {
		probs[target] = probability(p, window, target)
	}

	return market.Prediction{
		Room:          p.ID,
		Trend:         determineTrend(window),
		Confidence:    confidence(window, len(rounds)),
		Volatility:    volatility(window),
		RecentHigh:    maxOf(window),
		Probabilities: probs,
		At:            at,
	}
}

// recentWindow extracts the last min(30, n) multipliers, oldest-first.
func recentWindow(rounds []market.Round) []float64 {
	n := len(rounds)
	size := windowSize
	if n < size {
		size = n
	}
	out := make([]float64, 0, size)
	for _, r := range rounds[n-size:] {
		out = append(out, r.Multiplier)
	}
	return out
}

// determineTrend classifies the direction of the last five values.
func determineTrend(window []float64) market.TrendLabel {
	if len(window) < 5 {
		return market.TrendAnalyzing
	}
	last := window[len(window)-5:]

	nonDecreasing, nonIncreasing := true, true
	ups := 0
	for i := 1; i < len(last); i++ {
		switch {
		case last[i] > last[i-1]:
			nonIncreasing = false
			ups++
		case last[i] < last[i-1]:
			nonDecreasing = false
		}
	}
	switch {
	case nonDecreasing:
		return market.TrendStrongUp
	case nonIncreasing:
		return market.TrendStrongDown
	case ups >= 3:
		return market.TrendUpward
	case ups <= 1:
		return market.TrendDownward
	default:
		return market.TrendVolatile
	}
}

// volatility is the population standard deviation of the window.
func volatility(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	mean := meanOf(window)
	var sum float64
	for _, v := range window {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(window)))
}

// confidence scores how much the data supports the prediction,
// clamped to [0.1, 0.95].
func confidence(window []float64, total int) float64 {
	c := 0.5
	switch {
	case total >= 100:
		c += 0.2
	case total >= 50:
		c += 0.1
	}
	vol := volatility(window)
	if vol < 1.0 {
		c += 0.1
	} else if vol > 3.0 {
		c -= 0.1
	}
	if hasClearPattern(window) {
		c += 0.15
	}
	return clamp(c, 0.1, maxProbability)
}

// hasClearPattern reports whether most consecutive pairs stay close:
// over 60% of adjacent differences below 1.0.
func hasClearPattern(window []float64) bool {
	if len(window) < 2 {
		return false
	}
	near := 0
	for i := 1; i < len(window); i++ {
		if math.Abs(window[i]-window[i-1]) < 1.0 {
			near++
		}
	}
	return float64(near)/float64(len(window)-1) > 0.6
}

// probability estimates the chance the next round reaches the target.
func probability(p market.Profile, window []float64, target float64) float64 {
	base := p.BaseProbFor(target)
	prob := base * (1 + hitRatio(window, target)) * averageFactor(window, target)
	if target == 5 {
		for _, v := range window {
			if v >= 4 && v <= 6 {
				prob *= 1.3
				break
			}
		}
	}
	if prob > maxProbability {
		prob = maxProbability
	}
	return prob
}

// hitRatio is the fraction of the window at or above 70% of the target.
func hitRatio(window []float64, target float64) float64 {
	if len(window) == 0 {
		return 0
	}
	hits := 0
	for _, v := range window {
		if v >= 0.7*target {
			hits++
		}
	}
	return float64(hits) / float64(len(window))
}

// averageFactor rewards windows whose mean already sits near the target.
func averageFactor(window []float64, target float64) float64 {
	mean := meanOf(window)
	switch {
	case mean > 0.5*target:
		return 1.2
	case mean > 0.3*target:
		return 1.1
	default:
		return 1.0
	}
}

func meanOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func maxOf(vs []float64) float64 {
	var max float64
	for _, v := range vs {
		if v > max {
			max = v
		}
	}
	return max
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
