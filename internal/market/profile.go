package market

// Profile is the static configuration of one room: its display identity, the
// value range its multipliers fall into, and the per-target base probabilities
// encoding the room's risk bias.
//
// Profiles are built once at startup and treated as immutable afterwards.
type Profile struct {
	ID      RoomID
	Display string
	Risk    string // "low" | "medium" | "high", for menus and digests

	// MinValue/MaxValue bound the multipliers the room produces. Used by the
	// simulated data source and for sanity-checking pulled rounds.
	MinValue float64
	MaxValue float64

	// BaseProb maps target -> base probability in [0,1]. A low-risk room
	// concentrates mass on small targets, a high-risk room on large ones.
	BaseProb map[float64]float64
}

// BaseProbFor returns the room's base probability for target, or a
// conservative floor when the target is unknown.
func (p Profile) BaseProbFor(target float64) float64 {
	if v, ok := p.BaseProb[target]; ok {
		return v
	}
	return 0.05
}

// DefaultProfiles returns the built-in three-room configuration.
// Overrides from the config document are applied on top by the app.
func DefaultProfiles() map[RoomID]Profile {
	return map[RoomID]Profile{
		Room1: {
			ID: Room1, Display: "Blue Room (1.5x-5x)", Risk: "low",
			MinValue: 1.0, MaxValue: 10.0,
			BaseProb: map[float64]float64{
				1.5: 0.45, 2: 0.40, 3: 0.35, 4: 0.30, 5: 0.37,
				10: 0.20, 20: 0.15, 30: 0.10, 40: 0.08, 50: 0.05,
				60: 0.05, 70: 0.05, 80: 0.05, 90: 0.03, 100: 0.03, 1000: 0.01,
			},
		},
		Room2: {
			ID: Room2, Display: "Red Room (5x-20x)", Risk: "medium",
			MinValue: 1.0, MaxValue: 25.0,
			BaseProb: map[float64]float64{
				1.5: 0.33, 2: 0.35, 3: 0.37, 4: 0.40, 5: 0.45,
				10: 0.37, 20: 0.30, 30: 0.25, 40: 0.20, 50: 0.17,
				60: 0.15, 70: 0.12, 80: 0.10, 90: 0.08, 100: 0.08, 1000: 0.05,
			},
		},
		Room3: {
			ID: Room3, Display: "Green Room (20x-1000x+)", Risk: "high",
			MinValue: 1.0, MaxValue: 100.0,
			BaseProb: map[float64]float64{
				1.5: 0.20, 2: 0.22, 3: 0.25, 4: 0.27, 5: 0.30,
				10: 0.37, 20: 0.45, 30: 0.50, 40: 0.55, 50: 0.57,
				60: 0.60, 70: 0.62, 80: 0.65, 90: 0.67, 100: 0.70, 1000: 0.75,
			},
		},
	}
}
