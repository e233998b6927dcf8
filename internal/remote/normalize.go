package remote

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoSummaryText = errors.New("no summary text in response")

// NormalizeSummary turns whatever shape the backend replies with into
// display text. Backends have shipped several formats over time: a bare
// JSON string, an object keyed summary or minutes, the same nested under
// result, and structured topic or action-item lists. Anything else falls
// through to a best-effort scan for the first plausible text field.
func NormalizeSummary(raw []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "", false
	}

	// Bare string body.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return nonEmpty(s)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Not JSON at all. Some backends reply text/plain.
		return nonEmpty(trimmed)
	}

	for _, key := range []string{"summary", "minutes", "overallSummary", "overall_summary"} {
		if v, ok := obj[key]; ok {
			if text, ok := firstString(v); ok {
				return text, true
			}
		}
	}

	if v, ok := obj["result"]; ok {
		if text, ok := NormalizeSummary(v); ok {
			return text, true
		}
	}

	if text, ok := renderSections(obj); ok {
		return text, true
	}

	// Last resort: first string anywhere in the object.
	for _, v := range obj {
		if text, ok := firstString(v); ok {
			return text, true
		}
	}
	return "", false
}

// renderSections formats structured topic and action-item replies into
// bullet text.
func renderSections(obj map[string]json.RawMessage) (string, bool) {
	var b strings.Builder

	type item struct {
		Title   string `json:"title"`
		Topic   string `json:"topic"`
		Text    string `json:"text"`
		Summary string `json:"summary"`
	}

	appendItems := func(raw json.RawMessage, heading string) {
		var items []item
		if err := json.Unmarshal(raw, &items); err != nil {
			// Lists of bare strings are also seen in the wild.
			var lines []string
			if err := json.Unmarshal(raw, &lines); err != nil {
				return
			}
			for _, line := range lines {
				items = append(items, item{Text: line})
			}
		}
		wrote := false
		for _, it := range items {
			text := firstNonEmpty(it.Summary, it.Text, it.Title, it.Topic)
			if text == "" {
				continue
			}
			if !wrote && heading != "" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(heading)
				b.WriteString("\n")
				wrote = true
			}
			label := firstNonEmpty(it.Title, it.Topic)
			if label != "" && label != text {
				b.WriteString("- " + label + ": " + text + "\n")
			} else {
				b.WriteString("- " + text + "\n")
			}
		}
	}

	if v, ok := obj["topics"]; ok {
		appendItems(v, "Topics")
	}
	if v, ok := obj["actionItems"]; ok {
		appendItems(v, "Action items")
	} else if v, ok := obj["action_items"]; ok {
		appendItems(v, "Action items")
	}

	return nonEmpty(strings.TrimRight(b.String(), "\n"))
}

// normalizeFinal decodes the final-artifact response. Transcript and audio
// reference are optional; summary text goes through the same shape
// normalization as the live endpoint.
func normalizeFinal(raw []byte) (FinalSummary, bool) {
	var obj struct {
		Transcript string          `json:"transcript"`
		AudioURL   string          `json:"audioUrl"`
		AudioRef   string          `json:"audio_url"`
		Summary    json.RawMessage `json:"summary"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Maybe the whole body is just the summary.
		text, ok := NormalizeSummary(raw)
		if !ok {
			return FinalSummary{}, false
		}
		return FinalSummary{Summary: text}, true
	}

	final := FinalSummary{
		Transcript: obj.Transcript,
		AudioURL:   firstNonEmpty(obj.AudioURL, obj.AudioRef),
	}
	if len(obj.Summary) > 0 {
		if text, ok := NormalizeSummary(obj.Summary); ok {
			final.Summary = text
		}
	}
	if final.Summary == "" {
		// Summary may live at the top level under another key.
		if text, ok := NormalizeSummary(raw); ok {
			final.Summary = text
		}
	}
	if final.Summary == "" && final.Transcript == "" {
		return FinalSummary{}, false
	}
	return final, true
}

// firstString digs the first non-empty string out of an arbitrary JSON
// value, depth first.
func firstString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return nonEmpty(s)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		for _, v := range arr {
			if text, ok := firstString(v); ok {
				return text, true
			}
		}
		return "", false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		// Prefer well-known keys before falling back to map order, which
		// is not stable.
		for _, key := range []string{"summary", "minutes", "text", "content"} {
			if v, ok := obj[key]; ok {
				if text, ok := firstString(v); ok {
					return text, true
				}
			}
		}
		for _, v := range obj {
			if text, ok := firstString(v); ok {
				return text, true
			}
		}
	}
	return "", false
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
