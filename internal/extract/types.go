// Package extract finds decisions, mistakes, requirements, and validation
// rules embedded in assistant conversation transcripts using weighted
// pattern matching, with an optional LLM refiner for borderline matches.
package extract

import (
	"context"
	"time"

	"github.com/fenwicklabs/memoryd/internal/transcript"
)

// Kind identifies which knowledge category an extractor produces.
type Kind string

const (
	KindDecision    Kind = "decision"
	KindMistake     Kind = "mistake"
	KindRequirement Kind = "requirement"
	KindValidation  Kind = "validation"
)

// Pattern is a single weighted regular expression used to flag a candidate.
type Pattern struct {
	Name   string
	Regex  string
	Weight float64
}

// Candidate is a pattern-matched span of conversation awaiting optional
// refinement into a structured record.
type Candidate struct {
	Kind           Kind
	ConversationID string
	MessageID      string
	Content        string
	Context        []string
	PatternMatched string
	Confidence     float64
	NeedsRefine    bool
}

// Decision is a refined, structured design decision.
type Decision struct {
	ExternalID      string
	ConversationID  string
	MessageID       string
	Text            string
	Rationale       string
	Alternatives    []string
	RejectedReasons []string
	Context         string
	RelatedFiles    []string
	RelatedCommits  []string
	Timestamp       time.Time
}

// Mistake is an error recorded from a failed tool result, an assistant
// message discussing an error, or a user correction of the assistant's work.
type Mistake struct {
	ExternalID            string
	ConversationID        string
	MessageID             string
	Kind                  string
	WhatWentWrong         string
	Correction            string
	UserCorrectionMessage string
	FilesAffected         []string
	Severity              float64
	Timestamp             time.Time
}

// Requirement is a refined functional/non-functional constraint stated in
// an assistant message.
type Requirement struct {
	ExternalID        string
	ConversationID    string
	MessageID         string
	Kind              string
	Description       string
	Rationale         string
	AffectsComponents []string
	Timestamp         time.Time
}

// Validation is a refined acceptance or verification rule the user stated.
type Validation struct {
	ExternalID        string
	ConversationID    string
	MessageID         string
	Kind              string
	Description       string
	Rationale         string
	AffectsComponents []string
	Timestamp         time.Time
}

// Extractor finds Candidates of one Kind in a conversation's messages.
type Extractor interface {
	Kind() Kind
	Extract(messages []transcript.Message) ([]Candidate, error)
}

// Refiner turns a borderline Candidate into structured content, used for
// candidates whose pattern confidence falls below the refine threshold.
// Implementations may call out to an LLM; Available reports whether one is
// configured so callers can skip refinement entirely.
type Refiner interface {
	Refine(ctx context.Context, candidate Candidate) (string, error)
	Available() bool
}

// Config controls pattern thresholds and context-window size, shared across
// all four Kind extractors.
type Config struct {
	ConfidenceThreshold   float64
	RefineThreshold       float64
	ContextWindowMessages int
	Patterns              map[Kind][]Pattern
}

// DefaultConfig returns the built-in pattern set and thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:   0.5,
		RefineThreshold:       0.8,
		ContextWindowMessages: 3,
		Patterns: map[Kind][]Pattern{
			KindDecision:    DefaultDecisionPatterns(),
			KindMistake:     DefaultMistakePatterns(),
			KindRequirement: DefaultRequirementPatterns(),
			KindValidation:  DefaultValidationPatterns(),
		},
	}
}

// DefaultDecisionPatterns returns the built-in decision detection patterns.
func DefaultDecisionPatterns() []Pattern {
	return []Pattern{
		{Name: "lets_use", Regex: `(?i)let's (go with|use|choose|pick)`, Weight: 0.9},
		{Name: "decided_to", Regex: `(?i)decided to`, Weight: 0.9},
		{Name: "approach_is", Regex: `(?i)the approach (is|will be)`, Weight: 0.8},
		{Name: "choosing_over", Regex: `(?i)choosing .+ over`, Weight: 0.9},
		{Name: "architecture", Regex: `(?i)architecture.*(should|will)`, Weight: 0.7},
		{Name: "pattern_for", Regex: `(?i)pattern for this`, Weight: 0.7},
		{Name: "remember_this", Regex: `(?i)remember (this|that)`, Weight: 1.0},
		{Name: "note_future", Regex: `(?i)note for (future|later)`, Weight: 1.0},
	}
}

// DefaultMistakePatterns returns the built-in mistake detection patterns,
// tuned toward user corrections of assistant work.
func DefaultMistakePatterns() []Pattern {
	return []Pattern{
		{Name: "dont_because", Regex: `(?i)don't (do|use).*because`, Weight: 0.8},
		{Name: "avoid_because", Regex: `(?i)avoid.*because`, Weight: 0.8},
		{Name: "failed_approach", Regex: `(?i)this (broke|failed)`, Weight: 0.7},
		{Name: "no_not_that", Regex: `(?i)^(no|nope),? (not that|that's wrong)`, Weight: 0.9},
		{Name: "stop_doing", Regex: `(?i)stop (doing|using)`, Weight: 0.8},
		{Name: "that_is_wrong", Regex: `(?i)that('s| is) (wrong|incorrect|not right)`, Weight: 0.85},
		{Name: "got_burned", Regex: `(?i)got burned (by|when)`, Weight: 0.9},
		{Name: "never_again", Regex: `(?i)never (do|use) that again`, Weight: 0.95},
	}
}

// DefaultRequirementPatterns returns the built-in requirement detection
// patterns, tuned toward explicit constraints; they are matched against
// assistant messages.
func DefaultRequirementPatterns() []Pattern {
	return []Pattern{
		{Name: "must_requirement", Regex: `(?i)(must|needs to|has to) (support|handle|work with)`, Weight: 0.85},
		{Name: "always_should", Regex: `(?i)(always|should always)`, Weight: 0.7},
		{Name: "requirement_is", Regex: `(?i)the requirement is`, Weight: 0.95},
		{Name: "constraint", Regex: `(?i)(constraint|limitation) (is|here)`, Weight: 0.8},
		{Name: "needs_to_support", Regex: `(?i)needs to (support|be compatible with)`, Weight: 0.85},
	}
}

// DefaultValidationPatterns returns the built-in validation/acceptance-rule
// detection patterns.
func DefaultValidationPatterns() []Pattern {
	return []Pattern{
		{Name: "verify_that", Regex: `(?i)verify that`, Weight: 0.85},
		{Name: "make_sure", Regex: `(?i)make sure (that|to)`, Weight: 0.75},
		{Name: "acceptance_criteria", Regex: `(?i)acceptance criteri(a|on)`, Weight: 0.95},
		{Name: "should_pass", Regex: `(?i)(tests?|this) should pass`, Weight: 0.7},
		{Name: "before_merging", Regex: `(?i)before (merging|shipping|deploying)`, Weight: 0.8},
	}
}
