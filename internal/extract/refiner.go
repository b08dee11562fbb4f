package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultRefinerModel     = anthropic.Model("claude-3-5-haiku-latest")
	defaultRefinerMaxTokens = 256
)

// AnthropicRefiner turns a borderline Candidate into a single clean sentence
// using a small, fast Claude model. Only invoked for candidates whose
// pattern-match confidence falls under the refine threshold; the common case
// (high-confidence pattern match) never calls out to a model.
type AnthropicRefiner struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropicRefiner builds a Refiner. Returns a Refiner whose Available()
// is false if apiKey is empty, so callers can wire it in unconditionally and
// let Available gate the behavior.
func NewAnthropicRefiner(apiKey, baseURL, model string) *AnthropicRefiner {
	if apiKey == "" {
		return &AnthropicRefiner{}
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	m := defaultRefinerModel
	if model != "" {
		m = anthropic.Model(model)
	}
	return &AnthropicRefiner{client: &client, model: m}
}

func (r *AnthropicRefiner) Available() bool { return r.client != nil }

// Refine asks the model to restate the candidate's content as a single
// clean, self-contained sentence, dropping filler words and conversational
// framing. The candidate's Kind shapes the prompt instruction.
func (r *AnthropicRefiner) Refine(ctx context.Context, candidate Candidate) (string, error) {
	if !r.Available() {
		return candidate.Content, nil
	}

	instruction := refineInstruction(candidate.Kind)
	prompt := fmt.Sprintf("%s\n\nContext:\n%s\n\nStatement:\n%s",
		instruction, strings.Join(candidate.Context, "\n"), candidate.Content)

	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: defaultRefinerMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("extract: refine %s: %w", candidate.Kind, err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				out.WriteString(tb.Text)
			}
		}
	}
	refined := strings.TrimSpace(out.String())
	if refined == "" {
		return candidate.Content, nil
	}
	return refined, nil
}

func refineInstruction(kind Kind) string {
	switch kind {
	case KindDecision:
		return "Restate this as a single, self-contained sentence describing the design decision that was made."
	case KindMistake:
		return "Restate this as a single, self-contained sentence describing the mistake and the correction."
	case KindRequirement:
		return "Restate this as a single, self-contained sentence describing the requirement."
	case KindValidation:
		return "Restate this as a single, self-contained sentence describing the validation or acceptance rule."
	default:
		return "Restate this as a single, self-contained sentence."
	}
}

var _ Refiner = (*AnthropicRefiner)(nil)
