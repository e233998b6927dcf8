package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const polishPrompt = `You are writing concise meeting minutes. Rewrite the raw transcript below
into a short summary:
- Open with a one-sentence overview of what the meeting covered
- List the main points and decisions as markdown bullets, in order
- Keep every name, number, and date exactly as spoken
- Do not invent content that is not in the transcript

Transcript:
---
%s
---`

// Polisher rewrites a finalized transcript into polished minutes via
// Gemini, rotating through API keys when one is rate limited. A nil
// Polisher is valid and means the feature is off.
type Polisher struct {
	mu      sync.Mutex
	apiKeys []string
	current int
	model   string
	logger  *slog.Logger
}

// NewPolisher returns nil when no API keys are configured.
func NewPolisher(apiKeys []string, model string, logger *slog.Logger) *Polisher {
	if len(apiKeys) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Polisher{apiKeys: apiKeys, model: model, logger: logger}
}

// Polish sends the transcript to Gemini and returns the rewritten
// summary. Rotates API keys on 429 / quota errors.
func (p *Polisher) Polish(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("empty transcript")
	}
	prompt := fmt.Sprintf(polishPrompt, transcript)

	attempts := len(p.apiKeys)
	var lastErr error

	for range attempts {
		key := p.nextKey()

		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			lastErr = fmt.Errorf("create client: %w", err)
			p.rotateKey()
			continue
		}

		result, err := client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
		if err != nil {
			if isQuotaError(err) {
				p.logger.Warn("gemini key rate limited, rotating", "error", err)
				p.rotateKey()
				lastErr = err
				continue
			}
			return "", fmt.Errorf("generate content: %w", err)
		}

		if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
			var text strings.Builder
			for _, part := range result.Candidates[0].Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				return strings.TrimSpace(text.String()), nil
			}
		}

		return "", fmt.Errorf("empty response from gemini")
	}

	return "", fmt.Errorf("all API keys exhausted: %w", lastErr)
}

func (p *Polisher) nextKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apiKeys[p.current]
}

func (p *Polisher) rotateKey() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = (p.current + 1) % len(p.apiKeys)
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
