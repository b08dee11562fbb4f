package extract

import (
	"github.com/fenwicklabs/memoryd/internal/transcript"
)

// requirementValidatorConfig relaxes the confidence bar relative to
// decisions: requirement statements are often short and imperative rather
// than full sentences.
func requirementValidatorConfig() ValidatorConfig {
	cfg := DefaultValidatorConfig()
	cfg.MinConfidence = 0.4
	cfg.MinLength = 10
	return cfg
}

// RequirementExtractor assembles structured Requirement rows from assistant
// statements of functional or non-functional constraints.
type RequirementExtractor struct {
	patterns  *HeuristicExtractor
	validator *ExtractionValidator
	refs      *RefExtractor
}

func NewRequirementExtractor(cfg Config) (*RequirementExtractor, error) {
	patterns, err := NewHeuristicExtractor(KindRequirement, cfg)
	if err != nil {
		return nil, err
	}
	return &RequirementExtractor{
		patterns:  patterns,
		validator: NewExtractionValidator(requirementValidatorConfig()),
		refs:      NewRefExtractor(),
	}, nil
}

func (r *RequirementExtractor) Kind() Kind { return KindRequirement }

func (r *RequirementExtractor) Extract(messages []transcript.Message) ([]Requirement, error) {
	candidates, err := r.patterns.Extract(messages)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]transcript.Message, len(messages))
	for _, m := range messages {
		byID[m.ExternalID] = m
	}

	var requirements []Requirement
	for _, c := range candidates {
		if _, ok := r.validator.Validate(c.Content, c.Confidence); !ok {
			continue
		}
		msg := byID[c.MessageID]
		requirements = append(requirements, Requirement{
			ExternalID:        externalID(KindRequirement, c.MessageID, c.Content),
			ConversationID:    c.ConversationID,
			MessageID:         c.MessageID,
			Kind:              c.PatternMatched,
			Description:       c.Content,
			AffectsComponents: r.refs.Files(msg),
			Timestamp:         msg.Timestamp,
		})
	}
	return requirements, nil
}
