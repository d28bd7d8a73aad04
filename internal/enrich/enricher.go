// Package enrich produces a summary and topic tags for a transcript using a
// configurable LLM provider.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"

	"nexus/internal/config"
	"nexus/internal/services"
)

// transcriptLimit caps how much transcript is sent to the model. Long inputs
// only add cost; the opening of a transcript is enough for summary and tags.
const transcriptLimit = 12000

const maxTags = 8

const systemPrompt = `You summarize media transcripts. Respond with JSON only, no prose, in the exact shape:
{"summary": "two to four sentence summary", "tags": ["lowercase-topic", "..."]}
Tags are short lowercase topics, at most 8.`

// Result is the enrichment output for one transcript.
type Result struct {
	Summary string
	Tags    []string
}

// Enricher produces a summary and tags for transcript text.
type Enricher interface {
	Enrich(ctx context.Context, title, transcript string) (Result, error)
}

// LLMEnricher drives a langchaingo chat model with a JSON-only prompt and a
// request rate limit.
type LLMEnricher struct {
	model   llms.Model
	limiter *rate.Limiter
}

// NewLLMEnricher builds the enricher for the configured provider.
func NewLLMEnricher(cfg *config.Config) (*LLMEnricher, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewLLMEnricherWith(model, cfg.Enricher.RequestsPerMinute), nil
}

// NewLLMEnricherWith wraps an explicit model, mainly for tests.
func NewLLMEnricherWith(model llms.Model, requestsPerMinute int) *LLMEnricher {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return &LLMEnricher{
		model:   model,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func newModel(cfg *config.Config) (llms.Model, error) {
	switch cfg.Enricher.Provider {
	case "ollama", "":
		model, err := ollama.New(
			ollama.WithModel(cfg.Enricher.Model),
			ollama.WithServerURL(cfg.Enricher.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return model, nil
	case "openai":
		model, err := openai.New(
			openai.WithToken(cfg.Enricher.OpenAIAPIKey),
			openai.WithModel(cfg.Enricher.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return model, nil
	case "anthropic":
		model, err := anthropic.New(
			anthropic.WithToken(cfg.Enricher.AnthropicAPIKey),
			anthropic.WithModel(cfg.Enricher.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported enricher provider: %s", cfg.Enricher.Provider)
	}
}

// Enrich sends the transcript to the model and parses the JSON response.
func (e *LLMEnricher) Enrich(ctx context.Context, title, transcript string) (Result, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Result{}, services.Wrap(services.ErrPermanent, "enrich", "validate",
			"transcript is empty, nothing to summarize", nil)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, services.Wrap(services.ErrCancelled, "enrich", "rate limit",
			"gave up waiting for a request slot", err)
	}

	userPrompt := buildPrompt(title, transcript)
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}
	response, err := e.model.GenerateContent(ctx, messages)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "enrich", "generate",
			"model call failed", err)
	}
	if len(response.Choices) == 0 {
		return Result{}, services.Wrap(services.ErrTransient, "enrich", "generate",
			"model returned no choices", nil)
	}

	result, err := parseEnrichment(response.Choices[0].Content)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "enrich", "parse response",
			"model response was not the expected JSON", err)
	}
	return result, nil
}

func buildPrompt(title, transcript string) string {
	if len(transcript) > transcriptLimit {
		transcript = transcript[:transcriptLimit]
	}
	var b strings.Builder
	if strings.TrimSpace(title) != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", strings.TrimSpace(title))
	}
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}

type enrichmentPayload struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// parseEnrichment tolerates markdown fences and surrounding prose around the
// JSON object some models insist on adding.
func parseEnrichment(content string) (Result, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var payload enrichmentPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Result{}, err
	}

	result := Result{Summary: strings.TrimSpace(payload.Summary)}
	seen := make(map[string]struct{})
	for _, tag := range payload.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		result.Tags = append(result.Tags, tag)
		if len(result.Tags) == maxTags {
			break
		}
	}
	return result, nil
}
