package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"aviamon/internal/market"
	logx "aviamon/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (RoomStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS rounds (
  room       TEXT    NOT NULL,
  seq        INTEGER NOT NULL,
  at         TEXT    NOT NULL,
  multiplier REAL    NOT NULL,
  PRIMARY KEY (room, seq)
);
CREATE INDEX IF NOT EXISTS idx_rounds_room_at ON rounds(room, at);
`)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadRounds(ctx context.Context, room market.RoomID) ([]market.Round, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, at, multiplier FROM rounds WHERE room = ? ORDER BY seq ASC`,
		string(room),
	)
	if err != nil {
		s.log.Warn("round query failed; starting empty",
			logx.String("room", string(room)), logx.Err(err))
		return nil, nil
	}
	defer rows.Close()

	var out []market.Round
	for rows.Next() {
		var (
			seq  int64
			at   string
			mult float64
		)
		if err := rows.Scan(&seq, &at, &mult); err != nil {
			s.log.Warn("round row corrupt; starting empty",
				logx.String("room", string(room)), logx.Err(err))
			return nil, nil
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			s.log.Warn("round timestamp corrupt; starting empty",
				logx.String("room", string(room)), logx.Err(err))
			return nil, nil
		}
		out = append(out, market.Round{
			Timestamp:  ts,
			Multiplier: mult,
			SequenceID: seq,
			Room:       room,
		})
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("round scan failed; starting empty",
			logx.String("room", string(room)), logx.Err(err))
		return nil, nil
	}
	return out, nil
}

func (s *sqliteStore) SaveRounds(ctx context.Context, room market.RoomID, rounds []market.Round) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rounds WHERE room = ?`, string(room)); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rounds(room, seq, at, multiplier) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rounds {
		_, err := stmt.ExecContext(ctx,
			string(room), r.SequenceID, r.Timestamp.Format(time.RFC3339Nano), r.Multiplier)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
