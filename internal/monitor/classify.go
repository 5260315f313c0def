package monitor

import (
	"fmt"
	"strings"

	"aviamon/internal/market"
)

// classify extracts alert-worthy signals from one prediction.
//
// Urgent and high tiers are checked first across all targets; medium
// signals on small targets fire only when the room produced nothing
// stronger this cycle, to keep noise down.
func classify(pred market.Prediction, t Thresholds) []Alert {
	t = t.withDefaults()

	var out []Alert
	for _, target := range market.Targets {
		prob, ok := pred.Probabilities[target]
		if !ok {
			continue
		}
		switch {
		case target == 5 && prob > t.UrgentFive:
			out = append(out, Alert{
				Room: pred.Room, Tier: TierUrgent,
				Target: target, Probability: prob, Priority: 9,
			})
		case target > 20 && prob > t.HighLarge:
			out = append(out, Alert{
				Room: pred.Room, Tier: TierHigh,
				Target: target, Probability: prob, Priority: 7,
			})
		case target > 5 && target <= 20 && prob > t.HighMid:
			out = append(out, Alert{
				Room: pred.Room, Tier: TierHigh,
				Target: target, Probability: prob, Priority: 7,
			})
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, target := range market.Targets {
		prob, ok := pred.Probabilities[target]
		if !ok || target >= 5 {
			continue
		}
		if prob > t.MediumSmall {
			out = append(out, Alert{
				Room: pred.Room, Tier: TierMedium,
				Target: target, Probability: prob, Priority: 5,
			})
		}
	}
	return out
}

func tierLabel(t Tier) string {
	switch t {
	case TierUrgent:
		return "URGENT ALERT"
	case TierHigh:
		return "HIGH ALERT"
	default:
		return "Heads up"
	}
}

// alertText renders one alert for subscribers. The notifier prepends the
// priority emoji, so the body starts with the tier label.
func alertText(a Alert, pred market.Prediction, display string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", tierLabel(a.Tier))
	fmt.Fprintf(&b, "📍 %s\n", display)
	fmt.Fprintf(&b, "🎯 Target: %gx\n", a.Target)
	fmt.Fprintf(&b, "📊 Probability: %.0f%%\n", a.Probability*100)
	fmt.Fprintf(&b, "📈 Trend: %s\n", pred.Trend)
	fmt.Fprintf(&b, "🔒 Confidence: %.0f%%\n", pred.Confidence*100)
	fmt.Fprintf(&b, "🕐 %s", pred.At.Format("15:04:05"))
	return b.String()
}
