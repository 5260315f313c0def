package adapter

import (
	"strings"
	"testing"

	logx "aviamon/pkg/logx"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()

	got := splitTelegramText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("line one\n", 20)
	got := splitTelegramText(text, 50)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for i, chunk := range got {
		if len([]rune(chunk)) > 50 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(chunk)))
		}
		if strings.HasPrefix(chunk, "\n") || strings.HasSuffix(chunk, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, chunk)
		}
	}
}

func TestSplitTelegramTextNoNewlines(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 120)
	got := splitTelegramText(text, 50)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if joined := strings.Join(got, ""); joined != text {
		t.Fatalf("content lost: %d runes joined, want %d", len(joined), len(text))
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("want error for empty token")
	}
}
