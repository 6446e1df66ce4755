package engine

import (
	"context"
	"fmt"
	"math"

	"splitlab/pkg/domain"
)

const allocationTolerance = 0.01

// AllocationSplitRule blocks commits that would leave an active fixed-split
// experiment with traffic allocations not summing to 100.
func AllocationSplitRule() domain.Rule {
	return allocationSplitRule{}
}

type allocationSplitRule struct{}

func (allocationSplitRule) Name() string { return "allocation_split" }

func (allocationSplitRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	res := Result{}
	for _, id := range touchedExperimentIDs(changes) {
		exp, ok := view.FindExperiment(id)
		if !ok || exp.Mode != ModeFixedSplit {
			continue
		}
		if exp.State != StateRunning && exp.State != StatePaused {
			continue
		}
		total := 0.0
		for _, v := range view.ListVariants(id) {
			total += v.AllocationPct
		}
		if math.Abs(total-100) > allocationTolerance {
			res.Violations = append(res.Violations, Violation{
				Rule:     "allocation_split",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("experiment %s variant allocations sum to %.2f, want 100", id, total),
				Entity:   EntityExperiment,
				EntityID: id,
			})
		}
	}
	return res, nil
}

// touchedExperimentIDs collects the distinct experiment identifiers affected
// by a change set, following variant changes back to their owner.
func touchedExperimentIDs(changes []Change) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, change := range changes {
		switch change.Entity {
		case EntityExperiment:
			if exp, ok := change.After.(Experiment); ok {
				add(exp.ID)
			} else if exp, ok := change.Before.(Experiment); ok {
				add(exp.ID)
			}
		case EntityVariant:
			if v, ok := change.After.(Variant); ok {
				add(v.ExperimentID)
			} else if v, ok := change.Before.(Variant); ok {
				add(v.ExperimentID)
			}
		}
	}
	return ids
}
