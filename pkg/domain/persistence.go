package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView

	CreateExperiment(Experiment) (Experiment, error)
	UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error)
	DeleteExperiment(id string) error

	CreateVariant(Variant) (Variant, error)
	UpdateVariant(id string, mutator func(*Variant) error) (Variant, error)
	DeleteVariant(id string) error

	// EnsureAssignment inserts the assignment if no record exists for its
	// (ExperimentID, SubjectKey) pair and reports whether a new record was
	// created. When a record already exists it is returned unchanged; the
	// insert-if-absent contract is what makes assignment idempotent under
	// concurrent first-contact requests.
	EnsureAssignment(Assignment) (Assignment, bool, error)

	CreateEvent(Event) (Event, error)

	// EnsureBanditArm lazily creates the arm for a variant with an
	// uninformative (1,1) prior, returning the existing arm otherwise.
	EnsureBanditArm(experimentID, variantCode string) (BanditArm, bool, error)
	UpdateBanditArm(experimentID, variantCode string, mutator func(*BanditArm) error) (BanditArm, error)

	CreateSnapshot(AnalysisSnapshot) (AnalysisSnapshot, error)

	FindExperiment(id string) (Experiment, bool)
	FindVariant(id string) (Variant, bool)
	FindVariantByCode(experimentID, code string) (Variant, bool)
	ListVariants(experimentID string) []Variant
	FindAssignment(id string) (Assignment, bool)
	FindAssignmentBySubject(experimentID, subjectKey string) (Assignment, bool)
	FindBanditArm(experimentID, variantCode string) (BanditArm, bool)
	ListBanditArms(experimentID string) []BanditArm
}

// TransactionView provides read-only access to snapshot data for rules and
// analysis reads.
type TransactionView interface {
	ListExperiments() []Experiment
	FindExperiment(id string) (Experiment, bool)
	ListVariants(experimentID string) []Variant
	FindAssignment(id string) (Assignment, bool)
	FindAssignmentBySubject(experimentID, subjectKey string) (Assignment, bool)
	ListAssignments(experimentID string) []Assignment
	ListEvents(experimentID string) []Event
	ListBanditArms(experimentID string) []BanditArm
	ListSnapshots(experimentID string) []AnalysisSnapshot
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetExperiment(id string) (Experiment, bool)
	ListExperiments() []Experiment
	ListVariants(experimentID string) []Variant
	GetAssignment(id string) (Assignment, bool)
	ListEvents(experimentID string) []Event
	ListSnapshots(experimentID string) []AnalysisSnapshot
}
