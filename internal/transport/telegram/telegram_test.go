package telegram

import (
	"strings"
	"testing"

	"linkbot/pkg/logx"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v, want [hello]", got)
	}
}

func TestSplitTextPrefersNewlineBoundaries(t *testing.T) {
	text := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
	got := splitText(text, 100)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2: %q", len(got), got)
	}
	if strings.ContainsRune(got[0], 'y') || strings.ContainsRune(got[1], 'x') {
		t.Fatalf("split crossed newline boundary: %q", got)
	}
}

func TestSplitTextHardSplitsWithoutNewlines(t *testing.T) {
	text := strings.Repeat("a", 250)
	got := splitText(text, 100)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	var total int
	for _, c := range got {
		if len(c) > 100 {
			t.Fatalf("chunk exceeds limit: %d", len(c))
		}
		total += len(c)
	}
	if total != 250 {
		t.Fatalf("total runes = %d, want 250", total)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("New with empty token should fail")
	}
}
