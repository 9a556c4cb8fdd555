package utils

import (
	"strings"
	"testing"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gemini-2.0-flash")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{strings.Repeat("word ", 100), 90, 110},
	}
	for _, tt := range tests {
		got := counter.CountTokens(tt.text)
		if got < tt.minTokens || got > tt.maxTokens {
			t.Errorf("CountTokens(%q) = %d, want between %d and %d", tt.text, got, tt.minTokens, tt.maxTokens)
		}
	}
	if CountTokensSimple("Hello world") != counter.CountTokens("Hello world") {
		t.Error("simple counter disagrees with explicit counter")
	}
}

func TestTruncate(t *testing.T) {
	counter, _ := NewTokenCounter("x")
	long := strings.Repeat("word ", 200)
	out := counter.TruncateToTokenLimit(long, 20)
	if !strings.HasSuffix(out, "...") || len(out) >= len(long) {
		t.Errorf("expected truncated text, got %d chars", len(out))
	}
}

func TestCoercion(t *testing.T) {
	m := map[string]any{"s": "  hi ", "n": 42.0, "money": "$1,200", "list": []any{"a", "", "b"}, "csv": "x, y"}

	if String(m, "s") != "hi" || String(m, "n") != "42" || String(m, "missing") != "" {
		t.Error("String coercion failed")
	}
	if f, ok := FloatArg(m, "money"); !ok || f != 1200 {
		t.Errorf("expected 1200, got %v %v", f, ok)
	}
	if _, ok := Float("cheap"); ok {
		t.Error("expected non-numeric string to fail")
	}
	if got := Strings(m["list"]); len(got) != 2 || got[1] != "b" {
		t.Errorf("unexpected list %v", got)
	}
	if got := Strings(m["csv"]); len(got) != 2 || got[0] != "x" {
		t.Errorf("unexpected csv %v", got)
	}
}
