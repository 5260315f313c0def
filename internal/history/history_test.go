package history

import (
	"context"
	"testing"
	"time"

	"aviamon/internal/market"
	"aviamon/internal/storage"
	logx "aviamon/pkg/logx"
)

func mkRound(room market.RoomID, seq int64, mult float64) market.Round {
	return market.Round{
		Timestamp:  time.Unix(1700000000+seq*20, 0).UTC(),
		Multiplier: mult,
		SequenceID: seq,
		Room:       room,
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	t.Parallel()

	const limit = 5
	s := New(limit)
	for i := int64(1); i <= limit; i++ {
		s.Append(mkRound(market.Room1, i, float64(i)))
	}
	for i := int64(limit + 1); i <= limit+3; i++ {
		s.Append(mkRound(market.Room1, i, float64(i)))
	}

	got := s.Snapshot(market.Room1)
	if len(got) != limit {
		t.Fatalf("len = %d, want %d", len(got), limit)
	}
	if got[0].SequenceID != 4 {
		t.Fatalf("oldest seq = %d, want 4", got[0].SequenceID)
	}
	if got[len(got)-1].SequenceID != 8 {
		t.Fatalf("newest seq = %d, want 8", got[len(got)-1].SequenceID)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	t.Parallel()

	s := New(10)
	s.Append(mkRound(market.Room1, 1, 2.0))
	s.Append(mkRound(market.Room2, 1, 3.0))
	s.Append(mkRound(market.Room2, 2, 4.0))

	if n := s.Len(market.Room1); n != 1 {
		t.Fatalf("room1 len = %d, want 1", n)
	}
	if n := s.Len(market.Room2); n != 2 {
		t.Fatalf("room2 len = %d, want 2", n)
	}
	if n := s.Len(market.Room3); n != 0 {
		t.Fatalf("room3 len = %d, want 0", n)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := New(10)
	s.Append(mkRound(market.Room1, 1, 2.0))

	snap := s.Snapshot(market.Room1)
	snap[0].Multiplier = 99

	if got := s.Snapshot(market.Room1)[0].Multiplier; got != 2.0 {
		t.Fatalf("snapshot mutation leaked into store: %v", got)
	}
}

func TestInvalidRoomIgnored(t *testing.T) {
	t.Parallel()

	s := New(10)
	s.Append(market.Round{Room: market.RoomID("room9"), SequenceID: 1})
	if n := s.Len(market.RoomID("room9")); n != 0 {
		t.Fatalf("invalid room stored %d rounds", n)
	}
}

func TestSetCapTrimsNewestKept(t *testing.T) {
	t.Parallel()

	s := New(10)
	for i := int64(1); i <= 10; i++ {
		s.Append(mkRound(market.Room1, i, float64(i)))
	}
	s.SetCap(3)

	got := s.Snapshot(market.Room1)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].SequenceID != 8 || got[2].SequenceID != 10 {
		t.Fatalf("unexpected window: %+v", got)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	s := New(100)
	for i := int64(1); i <= 4; i++ {
		s.Append(mkRound(market.Room2, i, float64(i)*1.5))
	}
	if err := s.Save(ctx, st, market.Room2); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := New(100)
	if err := fresh.Load(ctx, st); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := fresh.Snapshot(market.Room2)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[3].Multiplier != 6.0 {
		t.Fatalf("newest multiplier = %v, want 6.0", got[3].Multiplier)
	}
}

func TestLoadTrimsToCap(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	wide := New(100)
	for i := int64(1); i <= 20; i++ {
		wide.Append(mkRound(market.Room1, i, float64(i)))
	}
	if err := wide.Save(ctx, st, market.Room1); err != nil {
		t.Fatalf("save: %v", err)
	}

	narrow := New(5)
	if err := narrow.Load(ctx, st); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := narrow.Snapshot(market.Room1)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].SequenceID != 16 {
		t.Fatalf("oldest kept seq = %d, want 16", got[0].SequenceID)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	t.Parallel()

	s := New(10)
	if err := s.Load(context.Background(), nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.Save(context.Background(), nil, market.Room1); err != nil {
		t.Fatalf("save: %v", err)
	}
}
