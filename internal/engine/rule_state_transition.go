package engine

import (
	"context"
	"fmt"

	"splitlab/pkg/domain"
)

// StateTransitionRule blocks illegal experiment lifecycle transitions.
// The machine is monotonic: draft -> running -> (paused <-> running) ->
// completed | winner_declared, with cancelled reachable from any non-terminal
// state and no transition out of a terminal state.
func StateTransitionRule() domain.Rule {
	return stateTransitionRule{}
}

type stateTransitionRule struct{}

var allowedTransitions = map[ExperimentState]map[ExperimentState]struct{}{
	StateDraft: stateSet(StateRunning, StateCancelled),
	StateRunning: stateSet(
		StatePaused, StateCompleted, StateWinnerDeclared, StateCancelled,
	),
	StatePaused: stateSet(
		StateRunning, StateCompleted, StateWinnerDeclared, StateCancelled,
	),
	StateCompleted:      {},
	StateWinnerDeclared: {},
	StateCancelled:      {},
}

func (stateTransitionRule) Name() string { return "state_transition" }

func (stateTransitionRule) Evaluate(_ context.Context, _ TransactionView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != EntityExperiment {
			continue
		}
		after, ok := change.After.(Experiment)
		if !ok {
			continue
		}
		if _, valid := allowedTransitions[after.State]; !valid {
			res.Violations = append(res.Violations, Violation{
				Rule:     "state_transition",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("experiment %s is set to invalid state %s", after.ID, after.State),
				Entity:   EntityExperiment,
				EntityID: after.ID,
			})
			continue
		}
		before, ok := change.Before.(Experiment)
		if !ok || before.State == after.State {
			continue
		}
		if _, legal := allowedTransitions[before.State][after.State]; !legal {
			msg := fmt.Sprintf("experiment %s cannot move from %s to %s", before.ID, before.State, after.State)
			if before.State.Terminal() {
				msg = fmt.Sprintf("experiment %s cannot leave terminal state %s", before.ID, before.State)
			}
			res.Violations = append(res.Violations, Violation{
				Rule:     "state_transition",
				Severity: SeverityBlock,
				Message:  msg,
				Entity:   EntityExperiment,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

func stateSet(states ...ExperimentState) map[ExperimentState]struct{} {
	set := make(map[ExperimentState]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}
