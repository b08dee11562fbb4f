package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fenwicklabs/memoryd/internal/transcript"
)

type compiledPattern struct {
	Pattern
	regex *regexp.Regexp
}

// HeuristicExtractor matches one Kind's pattern set against assistant and
// user messages, depending on the kind: decisions and requirements are
// assistant statements of intent; mistakes and validations are typically
// voiced by the user correcting or constraining the assistant.
type HeuristicExtractor struct {
	kind          Kind
	patterns      []*compiledPattern
	threshold     float64
	refineThreshold float64
	contextWindow int
	roleFilter    transcript.Role
}

var kindRoleFilter = map[Kind]transcript.Role{
	KindDecision:    transcript.RoleAssistant,
	KindRequirement: transcript.RoleAssistant,
	KindMistake:     transcript.RoleUser,
	KindValidation:  transcript.RoleUser,
}

// NewHeuristicExtractor builds an Extractor for kind using cfg's pattern set
// and thresholds.
func NewHeuristicExtractor(kind Kind, cfg Config) (*HeuristicExtractor, error) {
	patterns := cfg.Patterns[kind]

	compiled := make([]*compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			continue
		}
		compiled = append(compiled, &compiledPattern{Pattern: p, regex: re})
	}

	threshold := cfg.ConfidenceThreshold
	if threshold == 0 {
		threshold = 0.5
	}
	refineThreshold := cfg.RefineThreshold
	if refineThreshold == 0 {
		refineThreshold = 0.8
	}
	contextWindow := cfg.ContextWindowMessages
	if contextWindow == 0 {
		contextWindow = 3
	}

	return &HeuristicExtractor{
		kind:            kind,
		patterns:        compiled,
		threshold:       threshold,
		refineThreshold: refineThreshold,
		contextWindow:   contextWindow,
		roleFilter:      kindRoleFilter[kind],
	}, nil
}

func (h *HeuristicExtractor) Kind() Kind { return h.kind }

// Extract finds candidates in messages using pattern matching.
func (h *HeuristicExtractor) Extract(messages []transcript.Message) ([]Candidate, error) {
	var candidates []Candidate

	for i, msg := range messages {
		if h.roleFilter != "" && msg.Role != h.roleFilter {
			continue
		}

		match := h.findBestMatch(msg.Content)
		if match == nil {
			continue
		}
		if match.Weight < h.threshold {
			continue
		}

		candidates = append(candidates, Candidate{
			Kind:           h.kind,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ExternalID,
			Content:        msg.Content,
			Context:        h.buildContext(messages, i),
			PatternMatched: match.Name,
			Confidence:     match.Weight,
			NeedsRefine:    match.Weight < h.refineThreshold,
		})
	}

	return candidates, nil
}

func (h *HeuristicExtractor) findBestMatch(content string) *compiledPattern {
	var best *compiledPattern
	var bestWeight float64
	for _, p := range h.patterns {
		if p.regex.MatchString(content) && p.Weight > bestWeight {
			best = p
			bestWeight = p.Weight
		}
	}
	return best
}

func (h *HeuristicExtractor) buildContext(messages []transcript.Message, idx int) []string {
	start := idx - h.contextWindow
	if start < 0 {
		start = 0
	}
	var context []string
	for i := start; i < idx; i++ {
		context = append(context, formatContextMessage(messages[i]))
	}
	return context
}

func formatContextMessage(msg transcript.Message) string {
	role := capitalizeFirst(string(msg.Role))
	content := truncateToRunes(msg.Content, 200)
	return role + ": " + content
}

func truncateToRunes(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return strings.ToUpper(string(r)) + s[size:]
}

var _ Extractor = (*HeuristicExtractor)(nil)
