package analyzer

import (
	"math"
	"testing"
	"time"

	"aviamon/internal/market"
)

func roundsFrom(room market.RoomID, multipliers ...float64) []market.Round {
	base := time.Unix(1700000000, 0).UTC()
	out := make([]market.Round, 0, len(multipliers))
	for i, m := range multipliers {
		out = append(out, market.Round{
			Timestamp:  base.Add(time.Duration(i) * 20 * time.Second),
			Multiplier: m,
			SequenceID: int64(i + 1),
			Room:       room,
		})
	}
	return out
}

func profileFor(room market.RoomID) market.Profile {
	p, ok := market.DefaultProfiles()[room]
	if !ok {
		panic("unknown room " + string(room))
	}
	return p
}

func TestPredictInsufficientData(t *testing.T) {
	t.Parallel()

	p := profileFor(market.Room1)
	rounds := roundsFrom(market.Room1, 1.2, 2.5, 1.8, 3.0, 2.2, 1.1, 4.0, 2.8, 1.9)
	if len(rounds) >= 10 {
		t.Fatal("setup: need fewer than 10 rounds")
	}

	got := Predict(p, rounds, time.Now())
	if got.Trend != market.TrendInsufficientData {
		t.Fatalf("trend = %q, want %q", got.Trend, market.TrendInsufficientData)
	}
	if got.Confidence != 0.2 {
		t.Fatalf("confidence = %v, want 0.2", got.Confidence)
	}
	if got.RecentHigh != 0 {
		t.Fatalf("recent high = %v, want 0", got.RecentHigh)
	}
	for target, prob := range got.Probabilities {
		if prob != 0.1 {
			t.Fatalf("probability[%v] = %v, want 0.1", target, prob)
		}
	}
	if len(got.Probabilities) != len(market.Targets) {
		t.Fatalf("got %d targets, want %d", len(got.Probabilities), len(market.Targets))
	}
}

func TestDetermineTrend(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		window []float64
		want   market.TrendLabel
	}{
		{"short window", []float64{1, 2, 3}, market.TrendAnalyzing},
		{"rising run", []float64{1, 2, 3, 4, 5}, market.TrendStrongUp},
		{"falling run", []float64{5, 4, 3, 2, 1}, market.TrendStrongDown},
		{"flat run", []float64{2, 2, 2, 2, 2}, market.TrendStrongUp},
		{"mostly up", []float64{1, 3, 2, 4, 6}, market.TrendUpward},
		{"mostly down", []float64{6, 4, 5, 3, 1}, market.TrendDownward},
		{"alternating", []float64{1, 5, 1, 5, 1}, market.TrendVolatile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := determineTrend(tc.window); got != tc.want {
				t.Fatalf("determineTrend(%v) = %q, want %q", tc.window, got, tc.want)
			}
		})
	}
}

func TestDetermineTrendUsesLastFive(t *testing.T) {
	t.Parallel()

	// Earlier chaos must not matter; only the last five values count.
	window := []float64{9, 1, 7, 2, 8, 1, 2, 3, 4, 5}
	if got := determineTrend(window); got != market.TrendStrongUp {
		t.Fatalf("got %q, want %q", got, market.TrendStrongUp)
	}
}

func TestVolatility(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		window []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{4}, 0},
		{"constant", []float64{2, 2, 2, 2}, 0},
		{"pair", []float64{1, 5}, 2.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := volatility(tc.window)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("volatility(%v) = %v, want %v", tc.window, got, tc.want)
			}
		})
	}
}

func TestConfidenceBounds(t *testing.T) {
	t.Parallel()

	// Large stable history: every bonus applies, still capped at 0.95.
	stable := make([]float64, 30)
	for i := range stable {
		stable[i] = 2.0
	}
	if got := confidence(stable, 500); got != 0.95 {
		t.Fatalf("stable confidence = %v, want 0.95", got)
	}

	// Wild swings with little history stay low but never below 0.1.
	wild := []float64{1, 9, 1, 9, 1, 9, 1, 9, 1, 9}
	got := confidence(wild, 10)
	if got < 0.1 || got > 0.5 {
		t.Fatalf("wild confidence = %v, want in [0.1, 0.5]", got)
	}
}

func TestHitRatio(t *testing.T) {
	t.Parallel()

	window := []float64{1.0, 3.5, 7.0, 2.0}
	// Target 5: threshold 3.5, hits are 3.5 and 7.0.
	if got := hitRatio(window, 5); got != 0.5 {
		t.Fatalf("hitRatio = %v, want 0.5", got)
	}
	if got := hitRatio(nil, 5); got != 0 {
		t.Fatalf("empty hitRatio = %v, want 0", got)
	}
}

func TestAverageFactor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		window []float64
		target float64
		want   float64
	}{
		{[]float64{6, 6, 6}, 10, 1.2}, // mean 6 > 5
		{[]float64{4, 4, 4}, 10, 1.1}, // mean 4 > 3
		{[]float64{1, 1, 1}, 10, 1.0},
	}
	for _, tc := range cases {
		if got := averageFactor(tc.window, tc.target); got != tc.want {
			t.Fatalf("averageFactor(%v, %v) = %v, want %v", tc.window, tc.target, got, tc.want)
		}
	}
}

func TestProbabilityMonotonicInHits(t *testing.T) {
	t.Parallel()

	p := profileFor(market.Room2)
	low := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	mid := []float64{1, 1, 1, 1, 1, 8, 8, 8, 8, 8}
	high := []float64{8, 8, 8, 8, 8, 8, 8, 8, 8, 8}

	const target = 10.0
	pl := probability(p, low, target)
	pm := probability(p, mid, target)
	ph := probability(p, high, target)
	if !(pl < pm && pm <= ph) {
		t.Fatalf("probability not monotonic in hit ratio: %v, %v, %v", pl, pm, ph)
	}
}

func TestProbabilityCapped(t *testing.T) {
	t.Parallel()

	p := profileFor(market.Room3)
	window := make([]float64, 30)
	for i := range window {
		window[i] = 90
	}
	for _, target := range market.Targets {
		if got := probability(p, window, target); got > 0.95 {
			t.Fatalf("probability[%v] = %v, exceeds cap", target, got)
		}
	}
}

func TestProbabilityMidRangeBoost(t *testing.T) {
	t.Parallel()

	p := profileFor(market.Room1)
	plain := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 7}
	boosted := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 5}

	// A window value inside [4, 6] lifts the target-5 estimate.
	if pb, pp := probability(p, boosted, 5), probability(p, plain, 5); pb <= pp {
		t.Fatalf("boosted %v <= plain %v", pb, pp)
	}
}

func TestPredictFullShape(t *testing.T) {
	t.Parallel()

	p := profileFor(market.Room1)
	rounds := roundsFrom(market.Room1,
		1.2, 2.5, 1.8, 3.0, 2.2, 1.1, 4.0, 2.8, 1.9, 2.4,
		3.1, 1.6, 2.0, 2.9, 1.4)
	at := time.Unix(1700005000, 0).UTC()

	got := Predict(p, rounds, at)
	if got.Room != market.Room1 {
		t.Fatalf("room = %q", got.Room)
	}
	if !got.At.Equal(at) {
		t.Fatalf("at = %v, want %v", got.At, at)
	}
	if got.RecentHigh != 4.0 {
		t.Fatalf("recent high = %v, want 4.0", got.RecentHigh)
	}
	if got.Trend == market.TrendInsufficientData {
		t.Fatal("unexpected fallback trend with 15 rounds")
	}
	if got.Confidence < 0.1 || got.Confidence > 0.95 {
		t.Fatalf("confidence out of bounds: %v", got.Confidence)
	}
	for target, prob := range got.Probabilities {
		if prob < 0 || prob > 0.95 {
			t.Fatalf("probability[%v] out of bounds: %v", target, prob)
		}
	}
}
