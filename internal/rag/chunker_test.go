package rag

import (
	"errors"
	"strings"
	"testing"
)

func TestSplitConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SplitConfig
		wantErr bool
	}{
		{"defaults", DefaultSplitConfig(), false},
		{"no overlap", SplitConfig{Size: 100, Overlap: 0}, false},
		{"zero size", SplitConfig{Size: 0, Overlap: 0}, true},
		{"negative size", SplitConfig{Size: -1, Overlap: 0}, true},
		{"negative overlap", SplitConfig{Size: 100, Overlap: -1}, true},
		{"overlap equals size", SplitConfig{Size: 100, Overlap: 100}, true},
		{"overlap exceeds size", SplitConfig{Size: 100, Overlap: 150}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	t.Run("empty document yields no chunks", func(t *testing.T) {
		chunks, err := Split(Document{Source: "a.txt"}, DefaultSplitConfig())
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}
		if len(chunks) != 0 {
			t.Errorf("got %d chunks, want 0", len(chunks))
		}
	})

	t.Run("whitespace-only document yields no chunks", func(t *testing.T) {
		chunks, err := Split(Document{Source: "a.txt", Content: " \t\n\r\n  "}, DefaultSplitConfig())
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}
		if len(chunks) != 0 {
			t.Errorf("got %d chunks, want 0", len(chunks))
		}
	})

	t.Run("document shorter than chunk size", func(t *testing.T) {
		chunks, err := Split(Document{Source: "a.txt", Content: "short"}, SplitConfig{Size: 100, Overlap: 10})
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}
		if len(chunks) != 1 {
			t.Fatalf("got %d chunks, want 1", len(chunks))
		}
		if chunks[0].Content != "short" {
			t.Errorf("chunk content = %q, want %q", chunks[0].Content, "short")
		}
		if chunks[0].Index != 0 {
			t.Errorf("chunk index = %d, want 0", chunks[0].Index)
		}
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		_, err := Split(Document{Content: "x"}, SplitConfig{Size: 10, Overlap: 10})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Split() = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("overlap between consecutive chunks", func(t *testing.T) {
		content := "abcdefghijklmnopqrstuvwxyz"
		chunks, err := Split(Document{Source: "a.txt", Content: content}, SplitConfig{Size: 10, Overlap: 3})
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}
		for i := 1; i < len(chunks); i++ {
			prev := []rune(chunks[i-1].Content)
			cur := []rune(chunks[i].Content)
			tail := string(prev[len(prev)-3:])
			head := string(cur[:3])
			if tail != head {
				t.Errorf("chunk %d: overlap mismatch: prev tail %q, cur head %q", i, tail, head)
			}
		}
	})

	t.Run("de-overlapped concatenation reconstructs document", func(t *testing.T) {
		content := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40)
		cfg := SplitConfig{Size: 128, Overlap: 32}
		chunks, err := Split(Document{Source: "a.txt", Content: content}, cfg)
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}

		var sb strings.Builder
		for i, c := range chunks {
			runes := []rune(c.Content)
			if i == 0 {
				sb.WriteString(c.Content)
				continue
			}
			sb.WriteString(string(runes[cfg.Overlap:]))
		}
		if sb.String() != content {
			t.Error("reconstructed content differs from original")
		}
	})

	t.Run("final chunk longer than overlap", func(t *testing.T) {
		// Lengths chosen so the naive window would leave a trailing chunk
		// fully contained in its predecessor.
		for length := 1; length <= 60; length++ {
			content := strings.Repeat("x", length)
			chunks, err := Split(Document{Content: content}, SplitConfig{Size: 20, Overlap: 5})
			if err != nil {
				t.Fatalf("Split() error at length %d: %v", length, err)
			}
			if len(chunks) > 1 {
				last := chunks[len(chunks)-1]
				if len([]rune(last.Content)) <= 5 {
					t.Errorf("length %d: final chunk %q not longer than overlap", length, last.Content)
				}
			}
		}
	})

	t.Run("multibyte runes are not split", func(t *testing.T) {
		content := strings.Repeat("héllo wörld ", 30)
		chunks, err := Split(Document{Content: content}, SplitConfig{Size: 50, Overlap: 10})
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}
		for i, c := range chunks {
			if !strings.HasPrefix(content, string([]rune(c.Content)[:1])) && i == 0 {
				t.Errorf("chunk 0 starts mid-rune")
			}
			if strings.Contains(c.Content, "�") {
				t.Errorf("chunk %d contains replacement character", i)
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		doc := Document{Source: "a.txt", Content: strings.Repeat("deterministic splitting ", 50)}
		cfg := SplitConfig{Size: 64, Overlap: 16}
		a, err := Split(doc, cfg)
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}
		b, err := Split(doc, cfg)
		if err != nil {
			t.Fatalf("Split() error: %v", err)
		}
		if len(a) != len(b) {
			t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("chunk %d differs between runs", i)
			}
		}
	})
}
