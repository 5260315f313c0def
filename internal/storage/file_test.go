package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aviamon/internal/market"
	logx "aviamon/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	in := []market.Round{
		{Timestamp: now, Multiplier: 1.5, SequenceID: 1, Room: market.Room1},
		{Timestamp: now.Add(20 * time.Second), Multiplier: 7.2, SequenceID: 2, Room: market.Room1},
	}
	if err := st.SaveRounds(ctx, market.Room1, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := st.LoadRounds(ctx, market.Room1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d rounds, want 2", len(out))
	}
	if out[0].SequenceID != 1 || out[1].Multiplier != 7.2 {
		t.Fatalf("unexpected rounds: %+v", out)
	}
	if !out[0].Timestamp.Equal(now) {
		t.Fatalf("timestamp mismatch: got %v want %v", out[0].Timestamp, now)
	}

	// No temp files left behind.
	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("leftover temp files: %v", matches)
	}
}

func TestFileStoreMissingRoomIsEmpty(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	out, err := st.LoadRounds(context.Background(), market.Room2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("want empty, got %d rounds", len(out))
	}
}

func TestFileStoreCorruptSnapshotIsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "room3.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	out, err := st.LoadRounds(context.Background(), market.Room3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("want empty on corrupt snapshot, got %d rounds", len(out))
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: want nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("want error for unknown driver")
	}
}
