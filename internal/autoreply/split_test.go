package autoreply

import (
	"strings"
	"testing"
)

func TestSplitURLDotPreserved(t *testing.T) {
	parts := Split("Visit https://a.b/c. Call me.")

	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %q", len(parts), parts)
	}
	if !strings.Contains(parts[0], "https://a.b/c") {
		t.Errorf("URL mangled in first part: %q", parts[0])
	}
	if strings.Contains(parts[0], "\x00") || strings.Contains(parts[1], "\x00") {
		t.Errorf("placeholder leaked into output: %q", parts)
	}
}

func TestSplitNumberedListNotSplit(t *testing.T) {
	parts := Split("Item 1. Buy milk. Item 2. Buy eggs.")

	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %q", len(parts), parts)
	}
	if !strings.Contains(parts[0], "1. Buy milk") {
		t.Errorf("split after list marker: %q", parts[0])
	}
	if !strings.Contains(parts[1], "2. Buy eggs") {
		t.Errorf("split after list marker: %q", parts[1])
	}
}

func TestSplitProtectedSubstrings(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantParts int
		wantIn    string // substring that must survive intact in some part
	}{
		{
			name:      "email",
			text:      "Write to bob@example.com. Thanks!",
			wantParts: 2,
			wantIn:    "bob@example.com",
		},
		{
			name:      "quoted sentence terminator",
			text:      `He said "stop. now" and left. Then silence.`,
			wantParts: 2,
			wantIn:    `"stop. now"`,
		},
		{
			name:      "abbreviation",
			text:      "We sell fruit, e.g. apples. Also veggies.",
			wantParts: 2,
			wantIn:    "e.g.",
		},
		{
			name:      "www host",
			text:      "See www.example.org/x. Bye!",
			wantParts: 2,
			wantIn:    "www.example.org/x",
		},
		{
			name:      "plain two sentences",
			text:      "Hello there. How are you?",
			wantParts: 2,
			wantIn:    "How are you?",
		},
		{
			name:      "question and exclamation",
			text:      "Really?! Yes!",
			wantParts: 2,
			wantIn:    "Yes!",
		},
		{
			name:      "single sentence no terminator",
			text:      "just a fragment",
			wantParts: 1,
			wantIn:    "just a fragment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := Split(tt.text)
			if len(parts) != tt.wantParts {
				t.Fatalf("Split(%q) = %d parts %q, want %d", tt.text, len(parts), parts, tt.wantParts)
			}
			joined := strings.Join(parts, "|")
			if !strings.Contains(joined, tt.wantIn) {
				t.Errorf("Split(%q) lost %q: %q", tt.text, tt.wantIn, parts)
			}
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	if parts := Split(""); len(parts) != 0 {
		t.Errorf("Split(\"\") = %q, want empty", parts)
	}
	if parts := Split("   "); len(parts) != 0 {
		t.Errorf("Split(blank) = %q, want empty", parts)
	}
}

func TestSplitIsPure(t *testing.T) {
	text := "One. Two. Visit https://x.y/z. Three."
	first := Split(text)
	second := Split(text)
	if len(first) != len(second) {
		t.Fatalf("Split not stable: %d vs %d parts", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("part %d differs between runs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestSplitManyPlaceholders(t *testing.T) {
	// More than ten protected spans: placeholder 1 must not clobber 10.
	text := strings.Repeat("See https://h.io/a and e.g. x. ", 6)
	parts := Split(text)
	for _, p := range parts {
		if strings.Contains(p, "\x00") {
			t.Fatalf("unresolved placeholder in part %q", p)
		}
	}
	joined := strings.Join(parts, " ")
	if got := strings.Count(joined, "https://h.io/a"); got != 6 {
		t.Errorf("expected 6 restored URLs, got %d", got)
	}
}
