package services

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"conversepdf/internal/apperr"
)

func TestNewChunkerRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		overlap   int
		wantError bool
	}{
		{"valid", 1000, 200, false},
		{"no overlap", 10, 0, false},
		{"zero size", 0, 0, true},
		{"negative size", -5, 0, true},
		{"negative overlap", 100, -1, true},
		{"overlap equals size", 100, 100, true},
		{"overlap above size", 100, 150, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.size, tt.overlap)
			if tt.wantError {
				if !apperr.Is(err, apperr.KindInvalidConfiguration) {
					t.Fatalf("expected invalid_configuration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	c, _ := NewChunker(100, 10)
	for _, text := range []string{"", "   ", "\n\n\t\n"} {
		if chunks := c.Split(text); len(chunks) != 0 {
			t.Errorf("Split(%q) = %v, want no chunks", text, chunks)
		}
	}
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	chunks, err := SplitText("First paragraph here.\n\n  Second   one\nwraps.", 100, 20)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"First paragraph here.\n\nSecond one wraps."}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
}

func TestSplitSentenceBoundariesWithOverlap(t *testing.T) {
	chunks, err := SplitText("The cat sat. The dog ran. The bird flew away quickly.", 40, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"The cat sat. The dog ran.",
		"dog ran. The bird flew away quickly.",
	}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
}

func longText() string {
	var b strings.Builder
	words := []string{"vector", "store", "retrieval", "pipeline", "answer", "context", "chunk", "embedding"}
	for p := 0; p < 6; p++ {
		for s := 0; s < 9; s++ {
			for w := 0; w < 7+s%4; w++ {
				if w > 0 {
					b.WriteString(" ")
				}
				b.WriteString(words[(p+s+w)%len(words)])
			}
			b.WriteString(". ")
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// sharedPrefix returns the length of the longest prefix of next that is a suffix of prev.
func sharedPrefix(prev, next string) int {
	for k := len(next); k > 0; k-- {
		if strings.HasSuffix(prev, next[:k]) {
			return k
		}
	}
	return 0
}

func TestSplitBoundsAndOverlap(t *testing.T) {
	const size, overlap = 120, 30
	c, _ := NewChunker(size, overlap)
	chunks := c.Split(longText())

	if len(chunks) < 5 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if n := utf8.RuneCountInString(chunk); n > size {
			t.Errorf("chunk %d has %d runes, limit %d", i, n, size)
		}
		if strings.TrimSpace(chunk) != chunk || chunk == "" {
			t.Errorf("chunk %d is not trimmed: %q", i, chunk)
		}
	}
	for i := 1; i < len(chunks); i++ {
		k := sharedPrefix(chunks[i-1], chunks[i])
		if k == 0 {
			t.Errorf("chunks %d and %d share no overlap:\n%q\n%q", i-1, i, chunks[i-1], chunks[i])
		}
		if k > overlap {
			t.Errorf("chunks %d and %d overlap by %d, limit %d", i-1, i, k, overlap)
		}
	}
}

func TestSplitWithoutOverlapKeepsEveryWord(t *testing.T) {
	text := longText()
	chunks, err := SplitText(text, 80, 0)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Fields(strings.Join(chunks, " "))
	want := strings.Fields(text)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("words differ: got %d words, want %d", len(got), len(want))
	}
}

func TestSplitHardBoundaries(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no punctuation", strings.Repeat("lorem ipsum dolor ", 40)},
		{"single long token", strings.Repeat("x", 250)},
		{"multibyte runes", strings.Repeat("日本語のテキスト", 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := SplitText(tt.text, 50, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) < 2 {
				t.Fatalf("expected the text to be split, got %d chunks", len(chunks))
			}
			for i, chunk := range chunks {
				if n := utf8.RuneCountInString(chunk); n > 50 {
					t.Errorf("chunk %d has %d runes", i, n)
				}
				if !utf8.ValidString(chunk) {
					t.Errorf("chunk %d is not valid UTF-8", i)
				}
			}
		})
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	c, _ := NewChunker(100, 25)
	text := longText()
	first := c.Split(text)
	for i := 0; i < 5; i++ {
		if again := c.Split(text); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced different chunks", i)
		}
	}
}

func TestSplitTinyWindow(t *testing.T) {
	chunks, err := SplitText("ab cd ef", 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, chunk := range chunks {
		if n := utf8.RuneCountInString(chunk); n > 2 {
			t.Errorf("chunk %d = %q exceeds limit", i, chunk)
		}
	}
}
