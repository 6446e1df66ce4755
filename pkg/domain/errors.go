package domain

import "fmt"

// ValidationError reports malformed input: too few variants, allocation
// percentages that do not sum to 100, unknown identifiers in input shapes.
// Validation failures are synchronous and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StateError reports an operation that is not legal in the experiment's
// current lifecycle state, e.g. editing variants on a running experiment.
type StateError struct {
	ExperimentID string
	State        ExperimentState
	Operation    string
}

func (e StateError) Error() string {
	return fmt.Sprintf("experiment %s: cannot %s in state %q", e.ExperimentID, e.Operation, e.State)
}

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
