package extract

import (
	"github.com/fenwicklabs/memoryd/internal/transcript"
)

// ValidationExtractor assembles structured Validation rows from verification
// or acceptance-criteria statements, typically voiced by the user.
type ValidationExtractor struct {
	patterns  *HeuristicExtractor
	validator *ExtractionValidator
	refs      *RefExtractor
}

func NewValidationExtractor(cfg Config) (*ValidationExtractor, error) {
	patterns, err := NewHeuristicExtractor(KindValidation, cfg)
	if err != nil {
		return nil, err
	}
	return &ValidationExtractor{
		patterns:  patterns,
		validator: NewExtractionValidator(requirementValidatorConfig()),
		refs:      NewRefExtractor(),
	}, nil
}

func (v *ValidationExtractor) Kind() Kind { return KindValidation }

func (v *ValidationExtractor) Extract(messages []transcript.Message) ([]Validation, error) {
	candidates, err := v.patterns.Extract(messages)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]transcript.Message, len(messages))
	for _, m := range messages {
		byID[m.ExternalID] = m
	}

	var validations []Validation
	for _, c := range candidates {
		if _, ok := v.validator.Validate(c.Content, c.Confidence); !ok {
			continue
		}
		msg := byID[c.MessageID]
		validations = append(validations, Validation{
			ExternalID:        externalID(KindValidation, c.MessageID, c.Content),
			ConversationID:    c.ConversationID,
			MessageID:         c.MessageID,
			Kind:              c.PatternMatched,
			Description:       c.Content,
			AffectsComponents: v.refs.Files(msg),
			Timestamp:         msg.Timestamp,
		})
	}
	return validations, nil
}
