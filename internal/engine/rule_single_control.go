package engine

import (
	"context"
	"fmt"

	"splitlab/pkg/domain"
)

// SingleControlRule blocks commits that would leave an active experiment
// without exactly one control variant.
func SingleControlRule() domain.Rule {
	return singleControlRule{}
}

type singleControlRule struct{}

func (singleControlRule) Name() string { return "single_control" }

func (singleControlRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	res := Result{}
	for _, id := range touchedExperimentIDs(changes) {
		exp, ok := view.FindExperiment(id)
		if !ok || exp.State == StateDraft {
			continue
		}
		controls := 0
		for _, v := range view.ListVariants(id) {
			if v.IsControl {
				controls++
			}
		}
		if controls != 1 {
			res.Violations = append(res.Violations, Violation{
				Rule:     "single_control",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("experiment %s has %d control variants, want exactly 1", id, controls),
				Entity:   EntityExperiment,
				EntityID: id,
			})
		}
	}
	return res, nil
}
