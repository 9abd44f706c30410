package content_test

import (
	"strings"
	"testing"

	"github.com/solenoidlabs/recall/content"
)

func TestNormalizeStripsFrontMatter(t *testing.T) {
	raw := "---\ntitle: Budget Notes\ntags: [money]\n---\nMonthly spending went down in March."
	text, ok := content.Normalize(raw)
	if !ok {
		t.Fatal("expected content")
	}
	if strings.Contains(text, "title:") {
		t.Errorf("front matter not stripped: %q", text)
	}
	if text != "Monthly spending went down in March." {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestNormalizeStripsImagesAndResolvesLinks(t *testing.T) {
	raw := "See ![[chart.png]] and ![alt](pic.jpg) then [[Budget 2024|the budget]] and [[Savings]]."
	text, ok := content.Normalize(raw)
	if !ok {
		t.Fatal("expected content")
	}
	want := "See and then the budget and Savings."
	if text != want {
		t.Errorf("got %q, want %q", text, want)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	text, ok := content.Normalize("hello   world\n\n\tthis is  spaced")
	if !ok {
		t.Fatal("expected content")
	}
	if text != "hello world this is spaced" {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestNormalizeRejectsShortContent(t *testing.T) {
	if _, ok := content.Normalize("tiny"); ok {
		t.Error("expected rejection of short content")
	}
	if _, ok := content.Normalize("   \n\t  "); ok {
		t.Error("expected rejection of whitespace-only content")
	}
}

func TestNormalizeTruncates(t *testing.T) {
	long := strings.Repeat("a", 5000)
	text, ok := content.Normalize(long)
	if !ok {
		t.Fatal("expected content")
	}
	if len(text) != content.MaxLength {
		t.Errorf("got length %d, want %d", len(text), content.MaxLength)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := content.Hash("the same input")
	b := content.Hash("the same input")
	if a != b {
		t.Errorf("hash not deterministic: %s vs %s", a, b)
	}
	if a == content.Hash("different input") {
		t.Error("expected different hashes for different inputs")
	}
	if len(a) != 8 {
		t.Errorf("expected 8 hex chars, got %q", a)
	}
}

func TestReferences(t *testing.T) {
	raw := "Compare [[Budget 2024|budget]] with [[Savings]] and [[ok]]."
	refs := content.References(raw)

	want := map[string]bool{"budget 2024": true, "budget": true, "savings": true}
	if len(refs) != len(want) {
		t.Fatalf("got %v, want %d refs", refs, len(want))
	}
	for _, ref := range refs {
		if !want[ref] {
			t.Errorf("unexpected ref %q", ref)
		}
	}
}

func TestSplitChunks(t *testing.T) {
	short := "fits in one chunk"
	if chunks := content.SplitChunks(short, 100); len(chunks) != 1 || chunks[0] != short {
		t.Errorf("short text should be one chunk, got %v", chunks)
	}

	long := strings.Repeat("word ", 100) // 500 chars
	chunks := content.SplitChunks(long, 120)
	if len(chunks) < 4 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 120 {
			t.Errorf("chunk %d exceeds max: %d chars", i, len(c))
		}
		if c == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}
