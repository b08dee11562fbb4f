package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/fenwicklabs/memoryd/internal/transcript"
)

var (
	// choosingOverPattern takes the single word after "over" as the rejected
	// option, so trailing prose ("over Memcached for this layer") is dropped.
	choosingOverPattern = regexp.MustCompile(`(?i)choosing (.+?) over ([^\s.,]+)`)
	// insteadOfPattern matches "using/use/used/uses X instead of Y", covering
	// both the gerund and the bare verb ("we decided to use Postgres instead
	// of MongoDB").
	insteadOfPattern = regexp.MustCompile(`(?i)\b(?:using|used|uses|use)\s+(.+?)\s+instead of\s+(.+?)(?:[.,]|\s+because\b|$)`)
	// bareInsteadOfPattern catches "X instead of Y" with no leading verb,
	// anchored to the start of the content so it doesn't swallow an earlier
	// clause as part of X.
	bareInsteadOfPattern = regexp.MustCompile(`(?i)^(.+?)\s+instead of\s+(.+?)(?:[.,]|\s+because\b|$)`)
	becausePattern       = regexp.MustCompile(`(?i)\bbecause\b(.+)$`)
)

// DecisionExtractor assembles structured Decision rows from assistant
// messages, layering an ExtractionValidator on top of the raw pattern
// matches and attaching related files/commits pulled from the message's
// tool activity.
type DecisionExtractor struct {
	patterns  *HeuristicExtractor
	validator *ExtractionValidator
	refs      *RefExtractor
	refiner   Refiner
}

// NewDecisionExtractor builds a DecisionExtractor. refiner may be nil; when
// non-nil, only candidates flagged NeedsRefine are sent to it.
func NewDecisionExtractor(cfg Config, refiner Refiner) (*DecisionExtractor, error) {
	patterns, err := NewHeuristicExtractor(KindDecision, cfg)
	if err != nil {
		return nil, err
	}
	return &DecisionExtractor{
		patterns:  patterns,
		validator: NewExtractionValidator(DefaultValidatorConfig()),
		refs:      NewRefExtractor(),
		refiner:   refiner,
	}, nil
}

func (d *DecisionExtractor) Kind() Kind { return KindDecision }

// Extract runs pattern matching, validation, optional LLM refinement, and
// reference extraction, yielding zero or more Decision rows per message.
func (d *DecisionExtractor) Extract(ctx context.Context, messages []transcript.Message) ([]Decision, error) {
	candidates, err := d.patterns.Extract(messages)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]transcript.Message, len(messages))
	for _, m := range messages {
		byID[m.ExternalID] = m
	}

	var decisions []Decision
	for _, c := range candidates {
		if _, ok := d.validator.Validate(c.Content, c.Confidence); !ok {
			continue
		}

		text := c.Content
		if c.NeedsRefine && d.refiner != nil && d.refiner.Available() {
			if refined, rerr := d.refiner.Refine(ctx, c); rerr == nil && refined != "" {
				text = refined
			}
		}

		msg := byID[c.MessageID]
		alternatives, rejected := parseAlternatives(c.Content)
		rationale := parseRationale(c.Content)

		decisions = append(decisions, Decision{
			ExternalID:      externalID(KindDecision, c.MessageID, c.Content),
			ConversationID:  c.ConversationID,
			MessageID:       c.MessageID,
			Text:            text,
			Rationale:       rationale,
			Alternatives:    alternatives,
			RejectedReasons: rejected,
			Context:         strings.Join(c.Context, "\n"),
			RelatedFiles:    d.refs.Files(msg),
			RelatedCommits:  d.refs.Commits(msg),
			Timestamp:       msg.Timestamp,
		})
	}

	return decisions, nil
}

// parseAlternatives extracts the chosen/rejected option pair when the
// content syntactically carries one, e.g. "choosing Redis over Memcached"
// or "using Postgres instead of MySQL".
func parseAlternatives(content string) (alternatives, rejected []string) {
	if m := choosingOverPattern.FindStringSubmatch(content); len(m) == 3 {
		return []string{strings.TrimSpace(m[1])}, []string{strings.TrimSpace(m[2])}
	}
	if m := insteadOfPattern.FindStringSubmatch(content); len(m) == 3 {
		return []string{strings.TrimSpace(m[1])}, []string{strings.TrimSpace(m[2])}
	}
	if m := bareInsteadOfPattern.FindStringSubmatch(strings.TrimSpace(content)); len(m) == 3 {
		return []string{strings.TrimSpace(m[1])}, []string{strings.TrimSpace(m[2])}
	}
	return nil, nil
}

func parseRationale(content string) string {
	if m := becausePattern.FindStringSubmatch(content); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}
