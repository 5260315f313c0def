// Package history keeps a bounded in-memory round history per room.
package history

import (
	"context"
	"sync"

	"aviamon/internal/market"
	"aviamon/internal/storage"
)

const DefaultCap = 1000

// Store holds recent rounds per room, oldest-first, capped at a fixed
// number of entries. Appending past the cap evicts the oldest rounds.
type Store struct {
	mu    sync.RWMutex
	cap   int
	rooms map[market.RoomID][]market.Round
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Store{
		cap:   capacity,
		rooms: make(map[market.RoomID][]market.Round, len(market.Rooms())),
	}
}

func (s *Store) Cap() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cap
}

// SetCap changes the per-room cap and trims existing histories to fit,
// keeping the newest rounds.
func (s *Store) SetCap(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cap = capacity
	for room, rounds := range s.rooms {
		if len(rounds) > capacity {
			trimmed := make([]market.Round, capacity)
			copy(trimmed, rounds[len(rounds)-capacity:])
			s.rooms[room] = trimmed
		}
	}
}

func (s *Store) Append(r market.Round) {
	if !r.Room.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rounds := append(s.rooms[r.Room], r)
	if over := len(rounds) - s.cap; over > 0 {
		rounds = rounds[over:]
	}
	s.rooms[r.Room] = rounds
}

// Snapshot returns a copy of the room's rounds, oldest-first.
func (s *Store) Snapshot(room market.RoomID) []market.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rounds := s.rooms[room]
	if len(rounds) == 0 {
		return nil
	}
	out := make([]market.Round, len(rounds))
	copy(out, rounds)
	return out
}

func (s *Store) Len(room market.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// Load restores every room's history from the store, trimming each to the
// cap (newest kept). A nil store is a no-op.
func (s *Store) Load(ctx context.Context, st storage.RoomStore) error {
	if st == nil {
		return nil
	}
	for _, room := range market.Rooms() {
		rounds, err := st.LoadRounds(ctx, room)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if over := len(rounds) - s.cap; over > 0 {
			rounds = rounds[over:]
		}
		s.rooms[room] = rounds
		s.mu.Unlock()
	}
	return nil
}

// Save writes one room's current history to the store. A nil store is a no-op.
func (s *Store) Save(ctx context.Context, st storage.RoomStore, room market.RoomID) error {
	if st == nil {
		return nil
	}
	return st.SaveRounds(ctx, room, s.Snapshot(room))
}
