package source

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"aviamon/internal/market"
)

// simSource fabricates rounds without any upstream. Multipliers follow the
// heavy-tailed shape typical of crash rounds: most land near the bottom of
// the room's range, the tail reaches its top.
type simSource struct {
	mu       sync.Mutex
	rng      *rand.Rand
	seq      map[market.RoomID]int64
	profiles map[market.RoomID]market.Profile
}

func newSim(profiles map[market.RoomID]market.Profile) *simSource {
	return &simSource{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		seq:      make(map[market.RoomID]int64, len(profiles)),
		profiles: profiles,
	}
}

func (s *simSource) Pull(_ context.Context, room market.RoomID) (market.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[room]
	if !ok {
		return market.Round{}, market.ErrUnknownRoom
	}

	// Inverse-uniform tail, clamped to the room's range.
	u := s.rng.Float64()
	if u > 0.99 {
		u = 0.99
	}
	mult := p.MinValue / (1 - u)
	if mult > p.MaxValue {
		mult = p.MaxValue
	}
	mult = float64(int(mult*100)) / 100

	s.seq[room]++
	return market.Round{
		Timestamp:  time.Now().UTC(),
		Multiplier: mult,
		SequenceID: s.seq[room],
		Room:       room,
	}, nil
}
