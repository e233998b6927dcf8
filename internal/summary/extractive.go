// Package summary produces live summaries of an in-progress capture
// session: a polling loop that prefers the backend's own summary, a
// deterministic extractive fallback that needs no network, and an
// optional Gemini pass used at finalize time.
package summary

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultTopN is the number of sentences kept by Extract when Options
// does not say otherwise.
const DefaultTopN = 6

// defaultStopwords is the fixed stop-word set. Changing it changes
// summarizer output, which callers treat as reproducible.
var defaultStopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "so",
		"to", "of", "in", "on", "at", "for", "with", "from", "by",
		"is", "are", "was", "were", "be", "been", "being", "am",
		"do", "does", "did", "have", "has", "had", "will", "would",
		"can", "could", "should", "shall", "may", "might",
		"i", "you", "he", "she", "it", "we", "they",
		"me", "him", "her", "us", "them",
		"my", "your", "his", "its", "our", "their",
		"this", "that", "these", "those",
		"what", "which", "who", "whom", "when", "where", "why", "how",
		"as", "not", "no", "yes", "there", "here",
		"just", "also", "very", "really", "about",
		"um", "uh", "like", "okay", "ok", "yeah",
	} {
		defaultStopwords[w] = struct{}{}
	}
}

// Options tunes Extract. The zero value selects the default stop-word set
// and DefaultTopN.
type Options struct {
	Stopwords map[string]struct{}
	TopN      int
}

// Extract produces an extractive summary of text: the TopN
// highest-scoring sentences in score order, each rendered as a bullet
// line. A sentence scores the sum of the global term frequencies of its
// non-stop-word tokens. The function is pure; identical input and
// options yield byte-identical output. Ties keep first-occurrence order.
func Extract(text string, opts Options) []string {
	stop := opts.Stopwords
	if stop == nil {
		stop = defaultStopwords
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	freq := make(map[string]int)
	tokenized := make([][]string, len(sentences))
	for i, s := range sentences {
		tokens := tokenize(s, stop)
		tokenized[i] = tokens
		for _, tok := range tokens {
			freq[tok]++
		}
	}

	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, len(sentences))
	for i, tokens := range tokenized {
		sum := 0
		for _, tok := range tokens {
			sum += freq[tok]
		}
		ranked[i] = scored{index: i, score: sum}
	}

	// Stable keeps earlier sentences ahead on equal scores.
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	lines := make([]string, len(ranked))
	for i, r := range ranked {
		lines[i] = "- " + sentences[r.index]
	}
	return lines
}

// Render joins extracted bullet lines into one display text.
func Render(lines []string) string {
	return strings.Join(lines, "\n")
}

// splitSentences breaks text on sentence punctuation and line breaks.
// Transcript text often has no punctuation at all, so a newline is a
// boundary too.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	for _, r := range text {
		switch r {
		case '.', '!', '?':
			current.WriteRune(r)
			flush()
		case '\n':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return sentences
}

func tokenize(sentence string, stop map[string]struct{}) []string {
	fields := strings.FieldsFunc(strings.ToLower(sentence), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, skip := stop[f]; !skip {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
