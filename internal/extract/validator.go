package extract

import (
	"regexp"
	"strings"
)

// ValidatorConfig controls the confidence checks ExtractionValidator applies
// to a candidate's content before it is allowed to become a structured row.
type ValidatorConfig struct {
	MinLength          int
	ActionableKeywords []string
	MinConfidence      float64
}

// DefaultValidatorConfig returns the built-in validation thresholds used by
// decisions and, with a lower MinConfidence, requirements and validations.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinLength: 15,
		ActionableKeywords: []string{
			"use", "using", "switch", "instead", "because", "so that", "in order to",
			"should", "must", "need", "require", "implement", "add", "remove", "avoid",
		},
		MinConfidence: 0.5,
	}
}

var (
	sessionSummaryPattern = regexp.MustCompile(`(?i)^(here'?s a summary|to summarize|in summary|session summary)`)
	noisePattern          = regexp.MustCompile(`(?i)^(ok|okay|sure|got it|sounds good|thanks|thank you)\.?$`)
	sentenceStructure     = regexp.MustCompile(`[a-zA-Z]{2,}.*[a-zA-Z0-9.?!]$`)
)

// ExtractionValidator scores a candidate's plausibility as a real decision,
// requirement, or validation statement, independent of the pattern weight
// that flagged it: a high-weight pattern match on a noise phrase or a
// one-word fragment should still be rejected.
type ExtractionValidator struct {
	cfg ValidatorConfig
}

func NewExtractionValidator(cfg ValidatorConfig) *ExtractionValidator {
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = 15
	}
	if len(cfg.ActionableKeywords) == 0 {
		cfg.ActionableKeywords = DefaultValidatorConfig().ActionableKeywords
	}
	return &ExtractionValidator{cfg: cfg}
}

// Validate returns an adjusted confidence score for content given the
// pattern's own confidence, and whether the candidate clears the
// validator's minimum bar. A content-derived score below cfg.MinConfidence
// means the caller should discard the candidate regardless of pattern
// weight.
func (v *ExtractionValidator) Validate(content string, patternConfidence float64) (score float64, ok bool) {
	trimmed := strings.TrimSpace(content)

	if len(trimmed) < v.cfg.MinLength {
		return 0, false
	}
	if sessionSummaryPattern.MatchString(trimmed) {
		return 0, false
	}
	if noisePattern.MatchString(trimmed) {
		return 0, false
	}
	if !sentenceStructure.MatchString(trimmed) {
		return 0, false
	}

	score = patternConfidence
	if v.hasActionableKeyword(trimmed) {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}

	return score, score >= v.cfg.MinConfidence
}

func (v *ExtractionValidator) hasActionableKeyword(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range v.cfg.ActionableKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
