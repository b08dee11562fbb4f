package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fenwicklabs/memoryd/internal/transcript"
)

// mistakeKindPriority orders the inferred Mistake.Kind values from most to
// least specific; the first pattern that matches wins.
var mistakeKindPriority = []struct {
	kind    string
	pattern *regexp.Regexp
}{
	{"tool_error", regexp.MustCompile(`(?i)(command not found|permission denied|no such file|exit status [1-9]|exec:|ENOENT|EACCES)`)},
	{"wrong_approach", regexp.MustCompile(`(?i)(wrong approach|that's not (right|correct)|not what i (asked|wanted)|this isn't working)`)},
	{"syntax_error", regexp.MustCompile(`(?i)(syntax error|unexpected token|parse error|SyntaxError)`)},
	{"misunderstanding", regexp.MustCompile(`(?i)(misunderstood|that's not what i meant|i meant)`)},
	{"logic_error", regexp.MustCompile(`(?i)(logic error|off.by.one|wrong (result|output|value)|incorrect (result|output|logic))`)},
}

// mistakeKindSeverity gives each Kind a base severity weight; logic errors
// outrank syntax errors, which outrank the remaining kinds.
var mistakeKindSeverity = map[string]float64{
	"logic_error":      0.9,
	"syntax_error":     0.7,
	"wrong_approach":   0.6,
	"misunderstanding": 0.5,
	"tool_error":       0.4,
}

// MistakeExtractor emits Mistake rows from three sources: failed tool
// results, assistant messages discussing an error, and user corrections of
// the prior assistant turn.
type MistakeExtractor struct {
	patterns *HeuristicExtractor
}

func NewMistakeExtractor(cfg Config) (*MistakeExtractor, error) {
	patterns, err := NewHeuristicExtractor(KindMistake, cfg)
	if err != nil {
		return nil, err
	}
	return &MistakeExtractor{patterns: patterns}, nil
}

func (m *MistakeExtractor) Kind() Kind { return KindMistake }

// Extract walks messages in order, emitting a deduplicated set of Mistake
// rows for tool errors, assistant error-discussion, and user corrections.
func (m *MistakeExtractor) Extract(messages []transcript.Message) ([]Mistake, error) {
	var mistakes []Mistake
	dedup := make(map[string]bool)

	add := func(mk Mistake) {
		prefix := mk.WhatWentWrong
		if len(prefix) > 40 {
			prefix = prefix[:40]
		}
		key := fmt.Sprintf("%s|%s|%s|%s", mk.MessageID, mk.Kind, prefix, mk.Timestamp)
		if dedup[key] {
			return
		}
		dedup[key] = true
		mistakes = append(mistakes, mk)
	}

	for _, msg := range messages {
		for _, tr := range msg.ToolResults {
			if !tr.IsError {
				continue
			}
			kind := inferMistakeKind(tr.Content)
			add(Mistake{
				ExternalID:     externalID(KindMistake, msg.ExternalID, tr.Content),
				ConversationID: msg.ConversationID,
				MessageID:      msg.ExternalID,
				Kind:           kind,
				WhatWentWrong:  truncateToRunes(tr.Content, 500),
				Severity:       mistakeSeverity(kind, false, false),
				Timestamp:      tr.Timestamp,
			})
		}

		if msg.Role == transcript.RoleAssistant {
			if kind, ok := matchesErrorDiscussion(msg.Content); ok {
				add(Mistake{
					ExternalID:     externalID(KindMistake, msg.ExternalID, msg.Content),
					ConversationID: msg.ConversationID,
					MessageID:      msg.ExternalID,
					Kind:           kind,
					WhatWentWrong:  msg.Content,
					Severity:       mistakeSeverity(kind, hasCorrectionLanguage(msg.Content), false),
					Timestamp:      msg.Timestamp,
				})
			}
		}
	}

	candidates, err := m.patterns.Extract(messages)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]transcript.Message, len(messages))
	for _, mm := range messages {
		byID[mm.ExternalID] = mm
	}
	for _, c := range candidates {
		kind := inferMistakeKind(c.Content)
		correction := ""
		if prevIdx := messageIndex(messages, c.MessageID); prevIdx > 0 {
			correction = findPriorAssistantCorrection(messages, prevIdx)
		}
		add(Mistake{
			ExternalID:            externalID(KindMistake, c.MessageID, c.Content),
			ConversationID:        c.ConversationID,
			MessageID:             c.MessageID,
			Kind:                  kind,
			WhatWentWrong:         correction,
			Correction:            correction,
			UserCorrectionMessage: c.Content,
			Severity:              mistakeSeverity(kind, correction != "", true),
			Timestamp:             byID[c.MessageID].Timestamp,
		})
	}

	return mistakes, nil
}

func inferMistakeKind(content string) string {
	for _, p := range mistakeKindPriority {
		if p.pattern.MatchString(content) {
			return p.kind
		}
	}
	return "wrong_approach"
}

func mistakeSeverity(kind string, hasCorrection, hasUserCorrection bool) float64 {
	severity := mistakeKindSeverity[kind]
	if severity == 0 {
		severity = 0.5
	}
	if hasCorrection {
		severity += 0.05
	}
	if hasUserCorrection {
		severity += 0.1
	}
	if severity > 1.0 {
		severity = 1.0
	}
	return severity
}

var errorDiscussionPattern = regexp.MustCompile(`(?i)(i (made|introduced) a mistake|that (was|is) (an error|a bug)|this broke|that broke)`)

func matchesErrorDiscussion(content string) (string, bool) {
	if !errorDiscussionPattern.MatchString(content) {
		return "", false
	}
	return inferMistakeKind(content), true
}

func hasCorrectionLanguage(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "instead") || strings.Contains(lower, "fixed") || strings.Contains(lower, "correct")
}

func messageIndex(messages []transcript.Message, externalID string) int {
	for i, m := range messages {
		if m.ExternalID == externalID {
			return i
		}
	}
	return -1
}

// findPriorAssistantCorrection returns the content of the assistant message
// immediately preceding idx, the turn a user correction at idx is presumed
// to be responding to.
func findPriorAssistantCorrection(messages []transcript.Message, idx int) string {
	for i := idx - 1; i >= 0; i-- {
		if messages[i].Role == transcript.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}
