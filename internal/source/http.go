package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aviamon/internal/market"
	logx "aviamon/pkg/logx"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxBodyBytes       = 1 << 20
)

// httpSource fetches the latest round from a per-room JSON endpoint.
//
// Expected payload:
//
//	{"round_id": 123, "multiplier": 2.41, "timestamp": "2026-08-29T10:00:00Z"}
//
// A missing timestamp is stamped with the fetch time.
type httpSource struct {
	client *http.Client
	urls   map[market.RoomID]string
	log    logx.Logger
}

type wireRound struct {
	RoundID    int64   `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	Timestamp  string  `json:"timestamp"`
}

func newHTTP(cfg Config, log logx.Logger) (*httpSource, error) {
	urls := make(map[market.RoomID]string, len(cfg.RoomURLs))
	for id, raw := range cfg.RoomURLs {
		room := market.RoomID(strings.ToLower(strings.TrimSpace(id)))
		if !room.Valid() {
			return nil, fmt.Errorf("source.rooms: unknown room %q", id)
		}
		u := strings.TrimSpace(raw)
		if u == "" {
			return nil, fmt.Errorf("source.rooms.%s: url is required", room)
		}
		urls[room] = u
	}
	if len(urls) == 0 {
		return nil, errors.New("source.rooms: http driver needs at least one room url")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &httpSource{
		client: &http.Client{Timeout: timeout},
		urls:   urls,
		log:    log,
	}, nil
}

func (s *httpSource) Pull(ctx context.Context, room market.RoomID) (market.Round, error) {
	u, ok := s.urls[room]
	if !ok {
		return market.Round{}, market.ErrUnknownRoom
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return market.Round{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return market.Round{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return market.Round{}, fmt.Errorf("source %s: unexpected status %d", room, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return market.Round{}, err
	}
	var w wireRound
	if err := json.Unmarshal(body, &w); err != nil {
		return market.Round{}, fmt.Errorf("source %s: bad payload: %w", room, err)
	}
	if w.Multiplier <= 0 {
		return market.Round{}, fmt.Errorf("source %s: non-positive multiplier %v", room, w.Multiplier)
	}

	ts := time.Now().UTC()
	if w.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
			ts = parsed
		} else {
			s.log.Debug("unparseable round timestamp; using fetch time",
				logx.String("room", string(room)), logx.String("raw", w.Timestamp))
		}
	}
	return market.Round{
		Timestamp:  ts,
		Multiplier: w.Multiplier,
		SequenceID: w.RoundID,
		Room:       room,
	}, nil
}
