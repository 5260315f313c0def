package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"aviamon/internal/market"
	logx "aviamon/pkg/logx"
)

// fileStore keeps one JSON array file per room under a directory.
//
// Files:
//   - <dir>/room1.json
//   - <dir>/room2.json
//   - <dir>/room3.json
//
// Writes go through a temp file plus rename so readers never observe a
// partially written snapshot.
type fileStore struct {
	dir string
	log logx.Logger

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (RoomStore, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log}, nil
}

func (s *fileStore) roomPath(room market.RoomID) string {
	return filepath.Join(s.dir, string(room)+".json")
}

func (s *fileStore) LoadRounds(_ context.Context, room market.RoomID) ([]market.Round, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.roomPath(room))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.log.Warn("round snapshot unreadable; starting empty",
			logx.String("room", string(room)), logx.Err(err))
		return nil, nil
	}

	var rounds []market.Round
	if err := json.Unmarshal(b, &rounds); err != nil {
		s.log.Warn("round snapshot corrupt; starting empty",
			logx.String("room", string(room)), logx.Err(err))
		return nil, nil
	}
	return rounds, nil
}

func (s *fileStore) SaveRounds(_ context.Context, room market.RoomID, rounds []market.Round) error {
	if s == nil {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rounds == nil {
		rounds = []market.Round{}
	}
	b, err := json.MarshalIndent(rounds, "", "  ")
	if err != nil {
		return err
	}

	path := s.roomPath(room)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) Close() error { return nil }
