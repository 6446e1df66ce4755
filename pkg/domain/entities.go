// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by splitlab.
package domain

import "time"

// EntityType identifies the type of record stored in the engine.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityExperiment identifies a multi-variant test definition.
	EntityExperiment EntityType = "experiment"
	// EntityVariant identifies one version of content under test.
	EntityVariant EntityType = "variant"
	// EntityAssignment identifies a durable subject-to-variant decision.
	EntityAssignment EntityType = "assignment"
	// EntityEvent identifies an engagement event recorded against an assignment.
	EntityEvent EntityType = "event"
	// EntityBanditArm identifies the Bayesian arm state backing an adaptive variant.
	EntityBanditArm EntityType = "bandit_arm"
	// EntitySnapshot identifies an append-only analysis snapshot.
	EntitySnapshot EntityType = "analysis_snapshot"
)

// ExperimentState represents the canonical experiment lifecycle states.
type ExperimentState string

// Canonical experiment lifecycle states. Terminal states permit no further
// transition.
const (
	// StateDraft indicates variant configuration is still editable.
	StateDraft ExperimentState = "draft"
	// StateRunning indicates assignments and events are accepted.
	StateRunning        ExperimentState = "running"
	StatePaused         ExperimentState = "paused"
	StateCompleted      ExperimentState = "completed"
	StateWinnerDeclared ExperimentState = "winner_declared"
	StateCancelled      ExperimentState = "cancelled"
)

// Terminal reports whether the state permits no further transitions.
func (s ExperimentState) Terminal() bool {
	switch s {
	case StateCompleted, StateWinnerDeclared, StateCancelled:
		return true
	}
	return false
}

// TestMode selects the allocation strategy for an experiment.
type TestMode string

// Allocation strategies.
const (
	// ModeFixedSplit allocates subjects by deterministic hashing against
	// configured traffic percentages.
	ModeFixedSplit TestMode = "fixed_split"
	// ModeBandit allocates subjects adaptively by Thompson sampling.
	ModeBandit TestMode = "bandit"
)

// EventType classifies engagement events.
type EventType string

// Recognised event types.
const (
	EventImpression EventType = "impression"
	EventConversion EventType = "conversion"
	EventCustom     EventType = "custom"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EndCondition bounds an experiment run. Either field may be nil; a nil
// condition means the operator decides when to complete.
type EndCondition struct {
	EndAt      *time.Time `json:"end_at,omitempty"`
	MaxSamples *int64     `json:"max_samples,omitempty"`
}

// WinnerRecord captures the declared outcome of an experiment.
type WinnerRecord struct {
	VariantCode  string    `json:"variant_code"`
	Confidence   float64   `json:"confidence"`
	Lift         float64   `json:"lift"`
	AutoDeclared bool      `json:"auto_declared"`
	DeclaredAt   time.Time `json:"declared_at"`
}

// Experiment represents one multi-variant test on outbound content.
type Experiment struct {
	Base
	Name                string          `json:"name"`
	ChannelTag          string          `json:"channel_tag"`
	Mode                TestMode        `json:"mode"`
	PrimaryMetric       string          `json:"primary_metric"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	MinSampleSize       int64           `json:"min_sample_size"`
	State               ExperimentState `json:"state"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	EndedAt             *time.Time      `json:"ended_at,omitempty"`
	EndCondition        *EndCondition   `json:"end_condition,omitempty"`
	Winner              *WinnerRecord   `json:"winner,omitempty"`
}

// Variant is one version of content being compared within an experiment.
// Counter fields are authoritative; the derived fields are recomputed caches
// and never independently mutated.
type Variant struct {
	Base
	ExperimentID  string  `json:"experiment_id"`
	Code          string  `json:"code"`
	IsControl     bool    `json:"is_control"`
	Payload       Payload `json:"payload,omitempty"`
	PayloadRef    string  `json:"payload_ref,omitempty"`
	AllocationPct float64 `json:"allocation_pct"`

	SampleSize  int64   `json:"sample_size"`
	Impressions int64   `json:"impressions"`
	Conversions int64   `json:"conversions"`
	TotalValue  float64 `json:"total_value"`

	ConversionRate      float64 `json:"conversion_rate"`
	ValuePerConversion  float64 `json:"value_per_conversion"`
	LiftVsControl       float64 `json:"lift_vs_control"`
	ConfidenceVsControl float64 `json:"confidence_vs_control"`
}

// RefreshDerived recomputes the cached rate fields from the counters.
func (v *Variant) RefreshDerived() {
	if v.Impressions > 0 {
		v.ConversionRate = float64(v.Conversions) / float64(v.Impressions)
	} else {
		v.ConversionRate = 0
	}
	divisor := v.Conversions
	if divisor < 1 {
		divisor = 1
	}
	v.ValuePerConversion = v.TotalValue / float64(divisor)
}

// Assignment is the durable mapping from (experiment, subject) to a variant.
// At most one exists per (ExperimentID, SubjectKey); stores enforce the pair
// as an insert-if-absent key.
type Assignment struct {
	Base
	ExperimentID string `json:"experiment_id"`
	SubjectKey   string `json:"subject_key"`
	VariantCode  string `json:"variant_code"`
}

// Event is an append-only engagement record tied to an assignment. The
// experiment and variant references are denormalized so aggregation never
// needs a join through assignments.
type Event struct {
	Base
	AssignmentID string    `json:"assignment_id"`
	ExperimentID string    `json:"experiment_id"`
	VariantCode  string    `json:"variant_code"`
	Type         EventType `json:"type"`
	Value        *float64  `json:"value,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// BanditArm holds the Beta-distribution state backing one variant of an
// adaptive experiment. Parameters start at (1,1), the uninformative prior.
type BanditArm struct {
	Base
	ExperimentID string  `json:"experiment_id"`
	VariantCode  string  `json:"variant_code"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
	Pulls        int64   `json:"pulls"`
	Rewards      int64   `json:"rewards"`
}

// VariantStats is the per-variant slice of an analysis result.
type VariantStats struct {
	Code                string  `json:"code"`
	IsControl           bool    `json:"is_control"`
	SampleSize          int64   `json:"sample_size"`
	Impressions         int64   `json:"impressions"`
	Conversions         int64   `json:"conversions"`
	TotalValue          float64 `json:"total_value"`
	ConversionRate      float64 `json:"conversion_rate"`
	LiftVsControl       float64 `json:"lift_vs_control"`
	ConfidenceVsControl float64 `json:"confidence_vs_control"`
}

// AnalysisResult is the output of the statistics engine for one experiment.
type AnalysisResult struct {
	ExperimentID     string         `json:"experiment_id"`
	Variants         []VariantStats `json:"variants"`
	CurrentWinner    string         `json:"current_winner"`
	Confidence       float64        `json:"confidence"`
	CanDeclareWinner bool           `json:"can_declare_winner"`
	TotalSample      int64          `json:"total_sample"`
}

// AnalysisSnapshot is an append-only, timestamped capture of an analysis run
// kept for audit and trend display. Snapshots are derived artifacts; the
// authoritative counters live on Variant and BanditArm records.
type AnalysisSnapshot struct {
	Base
	ExperimentID string         `json:"experiment_id"`
	TakenAt      time.Time      `json:"taken_at"`
	Result       AnalysisResult `json:"result"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
