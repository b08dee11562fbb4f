package extract

import (
	"context"
	"fmt"

	"github.com/fenwicklabs/memoryd/internal/transcript"
)

// Result holds everything a single Extract call produced, ready for
// persistence.
type Result struct {
	Decisions    []Decision
	Mistakes     []Mistake
	Requirements []Requirement
	Validations  []Validation
}

// Service runs all four extractors over a conversation's messages. Content
// that fails to match any pattern simply yields fewer rows; a refiner
// failure keeps the unrefined text, so only an extractor's own error is
// surfaced to the caller.
type Service struct {
	decisions    *DecisionExtractor
	mistakes     *MistakeExtractor
	requirements *RequirementExtractor
	validations  *ValidationExtractor
}

// NewService builds a Service from cfg, wiring refiner into the decision
// extractor only (the extractor most likely to need prose cleanup).
// refiner may be nil.
func NewService(cfg Config, refiner Refiner) (*Service, error) {
	decisions, err := NewDecisionExtractor(cfg, refiner)
	if err != nil {
		return nil, fmt.Errorf("extract: build decision extractor: %w", err)
	}
	mistakes, err := NewMistakeExtractor(cfg)
	if err != nil {
		return nil, fmt.Errorf("extract: build mistake extractor: %w", err)
	}
	requirements, err := NewRequirementExtractor(cfg)
	if err != nil {
		return nil, fmt.Errorf("extract: build requirement extractor: %w", err)
	}
	validations, err := NewValidationExtractor(cfg)
	if err != nil {
		return nil, fmt.Errorf("extract: build validation extractor: %w", err)
	}
	return &Service{
		decisions:    decisions,
		mistakes:     mistakes,
		requirements: requirements,
		validations:  validations,
	}, nil
}

// Extract runs every extractor over messages. A refiner failure does not
// propagate (the decision keeps its unrefined text); a message that simply
// fails to match any pattern produces no rows and is not an error.
func (s *Service) Extract(ctx context.Context, messages []transcript.Message) (Result, error) {
	decisions, err := s.decisions.Extract(ctx, messages)
	if err != nil {
		return Result{}, fmt.Errorf("extract: decisions: %w", err)
	}
	mistakes, err := s.mistakes.Extract(messages)
	if err != nil {
		return Result{}, fmt.Errorf("extract: mistakes: %w", err)
	}
	requirements, err := s.requirements.Extract(messages)
	if err != nil {
		return Result{}, fmt.Errorf("extract: requirements: %w", err)
	}
	validations, err := s.validations.Extract(messages)
	if err != nil {
		return Result{}, fmt.Errorf("extract: validations: %w", err)
	}

	return Result{
		Decisions:    decisions,
		Mistakes:     mistakes,
		Requirements: requirements,
		Validations:  validations,
	}, nil
}
