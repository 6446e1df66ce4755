package engine

import (
	"context"
	"fmt"

	"splitlab/pkg/domain"
)

// variantCode yields A, B, C... for shorthand creators.
func variantCode(i int) string {
	return string(rune('A' + i))
}

// CreateTextTest is sugar over CreateExperiment for the common case of
// testing short text variants (subject lines, button labels and the like).
// Variants are coded A, B, C... with the first as control and equal traffic
// shares.
func (s *Service) CreateTextTest(ctx context.Context, name, channelTag string, texts []string) (Experiment, Result, error) {
	if len(texts) < 2 {
		return Experiment{}, Result{}, domain.ValidationError{Field: "texts", Message: "at least 2 text variants required"}
	}
	defs := make([]VariantDefinition, 0, len(texts))
	for i, text := range texts {
		payload, err := domain.NewPayloadFromValue(map[string]string{"text": text})
		if err != nil {
			return Experiment{}, Result{}, err
		}
		defs = append(defs, VariantDefinition{
			Code:      variantCode(i),
			Payload:   payload.Raw(),
			IsControl: i == 0,
		})
	}
	return s.CreateExperiment(ctx, ExperimentDefinition{
		Name:       name,
		ChannelTag: channelTag,
		Variants:   defs,
	})
}

// CreateAmountListTest is sugar over CreateExperiment for testing suggested
// amount lists (donation asks, price ladders). Variants are coded A, B, C...
// with the first as control and equal traffic shares.
func (s *Service) CreateAmountListTest(ctx context.Context, name, channelTag string, amountLists [][]float64) (Experiment, Result, error) {
	if len(amountLists) < 2 {
		return Experiment{}, Result{}, domain.ValidationError{Field: "amount_lists", Message: "at least 2 amount lists required"}
	}
	defs := make([]VariantDefinition, 0, len(amountLists))
	for i, amounts := range amountLists {
		if len(amounts) == 0 {
			return Experiment{}, Result{}, domain.ValidationError{Field: "amount_lists", Message: fmt.Sprintf("amount list %d is empty", i)}
		}
		payload, err := domain.NewPayloadFromValue(map[string][]float64{"amounts": amounts})
		if err != nil {
			return Experiment{}, Result{}, err
		}
		defs = append(defs, VariantDefinition{
			Code:      variantCode(i),
			Payload:   payload.Raw(),
			IsControl: i == 0,
		})
	}
	return s.CreateExperiment(ctx, ExperimentDefinition{
		Name:          name,
		ChannelTag:    channelTag,
		PrimaryMetric: "value_per_conversion",
		Variants:      defs,
	})
}
