package summary

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractDeterministic(t *testing.T) {
	text := "The roadmap review went long. Budget approval moved to next week. " +
		"The team discussed roadmap priorities and roadmap scope. " +
		"Lunch was good. Hiring remains blocked on budget approval."

	first := Extract(text, Options{})
	second := Extract(text, Options{})
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same input produced different output:\n%v\n%v", first, second)
	}
	if len(first) == 0 {
		t.Fatal("no summary lines produced")
	}
	for _, line := range first {
		if !strings.HasPrefix(line, "- ") {
			t.Errorf("line %q is not a bullet", line)
		}
	}
}

func TestExtractScoreOrder(t *testing.T) {
	// "roadmap" appears three times globally so the sentence mentioning it
	// twice outscores everything else, even though it comes later.
	text := "Lunch was good. Roadmap roadmap roadmap."

	got := Extract(text, Options{})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(got), got)
	}
	if got[0] != "- Roadmap roadmap roadmap." {
		t.Errorf("top line = %q, want the roadmap sentence first", got[0])
	}
}

func TestExtractTieBreakFirstOccurrence(t *testing.T) {
	// Both sentences score identically; the earlier one must come first.
	text := "alpha beta. gamma delta."

	got := Extract(text, Options{})
	want := []string{"- alpha beta.", "- gamma delta."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractTopN(t *testing.T) {
	var parts []string
	for _, w := range []string{"one", "two", "three", "four", "five", "six", "seven", "eight"} {
		parts = append(parts, w+" point.")
	}
	text := strings.Join(parts, " ")

	if got := Extract(text, Options{}); len(got) != DefaultTopN {
		t.Errorf("default top-n = %d lines, want %d", len(got), DefaultTopN)
	}
	if got := Extract(text, Options{TopN: 2}); len(got) != 2 {
		t.Errorf("top-n=2 produced %d lines", len(got))
	}
}

func TestExtractStopwordsDoNotScore(t *testing.T) {
	// "the" repeats heavily but is a stop word; the content sentence must
	// win over the filler sentence.
	text := "the the the the it was. budget budget review."

	got := Extract(text, Options{})
	if len(got) == 0 || got[0] != "- budget budget review." {
		t.Errorf("got %v, want budget sentence ranked first", got)
	}
}

func TestExtractCustomStopwords(t *testing.T) {
	stop := map[string]struct{}{"noise": {}}
	text := "noise noise noise. signal signal."

	got := Extract(text, Options{Stopwords: stop})
	if len(got) == 0 || got[0] != "- signal signal." {
		t.Errorf("got %v, want signal sentence first", got)
	}
}

func TestExtractNewlineBoundaries(t *testing.T) {
	// Transcript segments arrive without punctuation.
	text := "we shipped the release\nwe fixed the bug\nwe shipped the patch"

	got := Extract(text, Options{})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 sentences from newline splits: %v", len(got), got)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n", "..."} {
		if got := Extract(text, Options{}); len(got) != 0 {
			t.Errorf("Extract(%q) = %v, want empty", text, got)
		}
	}
}

func TestRender(t *testing.T) {
	if got := Render([]string{"- a", "- b"}); got != "- a\n- b" {
		t.Errorf("Render = %q", got)
	}
	if got := Render(nil); got != "" {
		t.Errorf("Render(nil) = %q, want empty", got)
	}
}
