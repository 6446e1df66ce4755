// Package memory provides an in-memory implementation of the engine
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"splitlab/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Experiment aliases domain.Experiment for in-memory persistence operations.
	Experiment = domain.Experiment
	// Variant aliases domain.Variant.
	Variant = domain.Variant
	// Assignment aliases domain.Assignment.
	Assignment = domain.Assignment
	// Event aliases domain.Event.
	Event = domain.Event
	// BanditArm aliases domain.BanditArm.
	BanditArm = domain.BanditArm
	// AnalysisSnapshot aliases domain.AnalysisSnapshot.
	AnalysisSnapshot = domain.AnalysisSnapshot
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	experiments map[string]Experiment
	variants    map[string]Variant
	assignments map[string]Assignment
	events      map[string]Event
	arms        map[string]BanditArm
	snapshots   map[string]AnalysisSnapshot

	// subjects maps experimentID||subjectKey to the assignment ID, giving
	// EnsureAssignment its insert-if-absent lookup without a scan. Rebuilt
	// from the assignment records on clone and import, never serialized.
	subjects map[string]string
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Experiments map[string]Experiment       `json:"experiments"`
	Variants    map[string]Variant          `json:"variants"`
	Assignments map[string]Assignment       `json:"assignments"`
	Events      map[string]Event            `json:"events"`
	Arms        map[string]BanditArm        `json:"arms"`
	Snapshots   map[string]AnalysisSnapshot `json:"snapshots"`
}

func newMemoryState() memoryState {
	return memoryState{
		experiments: make(map[string]Experiment),
		variants:    make(map[string]Variant),
		assignments: make(map[string]Assignment),
		events:      make(map[string]Event),
		arms:        make(map[string]BanditArm),
		snapshots:   make(map[string]AnalysisSnapshot),
		subjects:    make(map[string]string),
	}
}

func subjectKey(experimentID, subject string) string {
	return experimentID + "\x00" + subject
}

func armKey(experimentID, variantCode string) string {
	return experimentID + "\x00" + variantCode
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Experiments: make(map[string]Experiment, len(state.experiments)),
		Variants:    make(map[string]Variant, len(state.variants)),
		Assignments: make(map[string]Assignment, len(state.assignments)),
		Events:      make(map[string]Event, len(state.events)),
		Arms:        make(map[string]BanditArm, len(state.arms)),
		Snapshots:   make(map[string]AnalysisSnapshot, len(state.snapshots)),
	}
	for k, v := range state.experiments {
		s.Experiments[k] = cloneExperiment(v)
	}
	for k, v := range state.variants {
		s.Variants[k] = cloneVariant(v)
	}
	for k, v := range state.assignments {
		s.Assignments[k] = v
	}
	for k, v := range state.events {
		s.Events[k] = cloneEvent(v)
	}
	for k, v := range state.arms {
		s.Arms[k] = v
	}
	for k, v := range state.snapshots {
		s.Snapshots[k] = cloneAnalysisSnapshot(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Experiments {
		state.experiments[k] = cloneExperiment(v)
	}
	for k, v := range s.Variants {
		state.variants[k] = cloneVariant(v)
	}
	for k, v := range s.Assignments {
		state.assignments[k] = v
	}
	for k, v := range s.Events {
		state.events[k] = cloneEvent(v)
	}
	for k, v := range s.Arms {
		state.arms[k] = v
	}
	for k, v := range s.Snapshots {
		state.snapshots[k] = cloneAnalysisSnapshot(v)
	}
	state.reindexSubjects()
	return state
}

// migrateSnapshot prunes dangling references so a hydrated store never holds
// records pointing at entities that no longer exist.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Experiments == nil {
		snapshot.Experiments = map[string]Experiment{}
	}
	if snapshot.Variants == nil {
		snapshot.Variants = map[string]Variant{}
	}
	if snapshot.Assignments == nil {
		snapshot.Assignments = map[string]Assignment{}
	}
	if snapshot.Events == nil {
		snapshot.Events = map[string]Event{}
	}
	if snapshot.Arms == nil {
		snapshot.Arms = map[string]BanditArm{}
	}
	if snapshot.Snapshots == nil {
		snapshot.Snapshots = map[string]AnalysisSnapshot{}
	}

	experimentExists := func(id string) bool {
		_, ok := snapshot.Experiments[id]
		return ok
	}

	for id, variant := range snapshot.Variants {
		if variant.ExperimentID == "" || !experimentExists(variant.ExperimentID) {
			delete(snapshot.Variants, id)
		}
	}

	variantExists := func(experimentID, code string) bool {
		for _, v := range snapshot.Variants {
			if v.ExperimentID == experimentID && v.Code == code {
				return true
			}
		}
		return false
	}

	for id, assignment := range snapshot.Assignments {
		if !experimentExists(assignment.ExperimentID) || !variantExists(assignment.ExperimentID, assignment.VariantCode) {
			delete(snapshot.Assignments, id)
		}
	}

	assignmentExists := func(id string) bool {
		_, ok := snapshot.Assignments[id]
		return ok
	}

	for id, event := range snapshot.Events {
		if !assignmentExists(event.AssignmentID) {
			delete(snapshot.Events, id)
		}
	}

	for key, arm := range snapshot.Arms {
		if !experimentExists(arm.ExperimentID) || !variantExists(arm.ExperimentID, arm.VariantCode) {
			delete(snapshot.Arms, key)
		}
	}

	for id, snap := range snapshot.Snapshots {
		if !experimentExists(snap.ExperimentID) {
			delete(snapshot.Snapshots, id)
		}
	}

	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		experiments: make(map[string]Experiment, len(s.experiments)),
		variants:    make(map[string]Variant, len(s.variants)),
		assignments: make(map[string]Assignment, len(s.assignments)),
		events:      make(map[string]Event, len(s.events)),
		arms:        make(map[string]BanditArm, len(s.arms)),
		snapshots:   make(map[string]AnalysisSnapshot, len(s.snapshots)),
		subjects:    make(map[string]string, len(s.subjects)),
	}
	for k, v := range s.experiments {
		cloned.experiments[k] = cloneExperiment(v)
	}
	for k, v := range s.variants {
		cloned.variants[k] = cloneVariant(v)
	}
	for k, v := range s.assignments {
		cloned.assignments[k] = v
	}
	for k, v := range s.events {
		cloned.events[k] = cloneEvent(v)
	}
	for k, v := range s.arms {
		cloned.arms[k] = v
	}
	for k, v := range s.snapshots {
		cloned.snapshots[k] = cloneAnalysisSnapshot(v)
	}
	for k, v := range s.subjects {
		cloned.subjects[k] = v
	}
	return cloned
}

func (s *memoryState) reindexSubjects() {
	s.subjects = make(map[string]string, len(s.assignments))
	for id, assignment := range s.assignments {
		s.subjects[subjectKey(assignment.ExperimentID, assignment.SubjectKey)] = id
	}
}

func cloneExperiment(e Experiment) Experiment {
	cp := e
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	if e.EndCondition != nil {
		cond := *e.EndCondition
		if e.EndCondition.EndAt != nil {
			t := *e.EndCondition.EndAt
			cond.EndAt = &t
		}
		if e.EndCondition.MaxSamples != nil {
			n := *e.EndCondition.MaxSamples
			cond.MaxSamples = &n
		}
		cp.EndCondition = &cond
	}
	if e.Winner != nil {
		w := *e.Winner
		cp.Winner = &w
	}
	return cp
}

// cloneVariant copies a variant record. The payload wrapper is immutable
// through its API, so a struct copy is sufficient.
func cloneVariant(v Variant) Variant { return v }

func cloneEvent(e Event) Event {
	cp := e
	if e.Value != nil {
		val := *e.Value
		cp.Value = &val
	}
	return cp
}

func cloneAnalysisSnapshot(s AnalysisSnapshot) AnalysisSnapshot {
	cp := s
	cp.Result.Variants = append([]domain.VariantStats(nil), s.Result.Variants...)
	return cp
}

// Store provides an in-memory transactional store for the engine domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider, primarily for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListExperiments returns all experiments within the snapshot.
func (v transactionView) ListExperiments() []Experiment {
	out := make([]Experiment, 0, len(v.state.experiments))
	for _, e := range v.state.experiments {
		out = append(out, cloneExperiment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindExperiment retrieves an experiment by ID from the snapshot.
func (v transactionView) FindExperiment(id string) (Experiment, bool) {
	e, ok := v.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

// ListVariants returns the experiment's variants ordered by code. The fixed
// order is what keeps deterministic allocation stable across processes.
func (v transactionView) ListVariants(experimentID string) []Variant {
	return listVariants(v.state, experimentID)
}

// FindAssignment retrieves an assignment by ID from the snapshot.
func (v transactionView) FindAssignment(id string) (Assignment, bool) {
	a, ok := v.state.assignments[id]
	if !ok {
		return Assignment{}, false
	}
	return a, true
}

// FindAssignmentBySubject retrieves an assignment by its idempotency key.
func (v transactionView) FindAssignmentBySubject(experimentID, subject string) (Assignment, bool) {
	return findAssignmentBySubject(v.state, experimentID, subject)
}

// ListAssignments returns all assignments for the experiment.
func (v transactionView) ListAssignments(experimentID string) []Assignment {
	out := make([]Assignment, 0)
	for _, a := range v.state.assignments {
		if a.ExperimentID == experimentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEvents returns all events recorded for the experiment.
func (v transactionView) ListEvents(experimentID string) []Event {
	return listEvents(v.state, experimentID)
}

// ListBanditArms returns the experiment's arms ordered by variant code.
func (v transactionView) ListBanditArms(experimentID string) []BanditArm {
	return listBanditArms(v.state, experimentID)
}

// ListSnapshots returns the experiment's analysis snapshots ordered by capture time.
func (v transactionView) ListSnapshots(experimentID string) []AnalysisSnapshot {
	return listSnapshots(v.state, experimentID)
}

func listVariants(state *memoryState, experimentID string) []Variant {
	out := make([]Variant, 0)
	for _, variant := range state.variants {
		if variant.ExperimentID == experimentID {
			out = append(out, cloneVariant(variant))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func listEvents(state *memoryState, experimentID string) []Event {
	out := make([]Event, 0)
	for _, event := range state.events {
		if event.ExperimentID == experimentID {
			out = append(out, cloneEvent(event))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

func listBanditArms(state *memoryState, experimentID string) []BanditArm {
	out := make([]BanditArm, 0)
	for _, arm := range state.arms {
		if arm.ExperimentID == experimentID {
			out = append(out, arm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantCode < out[j].VariantCode })
	return out
}

func listSnapshots(state *memoryState, experimentID string) []AnalysisSnapshot {
	out := make([]AnalysisSnapshot, 0)
	for _, snap := range state.snapshots {
		if snap.ExperimentID == experimentID {
			out = append(out, cloneAnalysisSnapshot(snap))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TakenAt.Equal(out[j].TakenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].TakenAt.Before(out[j].TakenAt)
	})
	return out
}

func findAssignmentBySubject(state *memoryState, experimentID, subject string) (Assignment, bool) {
	id, ok := state.subjects[subjectKey(experimentID, subject)]
	if !ok {
		return Assignment{}, false
	}
	a, ok := state.assignments[id]
	if !ok {
		return Assignment{}, false
	}
	return a, true
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateExperiment stores a new experiment within the transaction.
func (tx *transaction) CreateExperiment(e Experiment) (Experiment, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.experiments[e.ID]; exists {
		return Experiment{}, fmt.Errorf("experiment %q already exists", e.ID)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.experiments[e.ID] = cloneExperiment(e)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionCreate, After: cloneExperiment(e)})
	return cloneExperiment(e), nil
}

// UpdateExperiment mutates an experiment using the provided mutator function.
func (tx *transaction) UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error) {
	current, ok := tx.state.experiments[id]
	if !ok {
		return Experiment{}, domain.NotFoundError{Entity: domain.EntityExperiment, ID: id}
	}
	before := cloneExperiment(current)
	if err := mutator(&current); err != nil {
		return Experiment{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.experiments[id] = cloneExperiment(current)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionUpdate, Before: before, After: cloneExperiment(current)})
	return cloneExperiment(current), nil
}

// DeleteExperiment removes an experiment and everything hanging off it.
func (tx *transaction) DeleteExperiment(id string) error {
	current, ok := tx.state.experiments[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityExperiment, ID: id}
	}
	for vid, variant := range tx.state.variants {
		if variant.ExperimentID == id {
			delete(tx.state.variants, vid)
		}
	}
	for aid, assignment := range tx.state.assignments {
		if assignment.ExperimentID == id {
			delete(tx.state.subjects, subjectKey(assignment.ExperimentID, assignment.SubjectKey))
			delete(tx.state.assignments, aid)
		}
	}
	for eid, event := range tx.state.events {
		if event.ExperimentID == id {
			delete(tx.state.events, eid)
		}
	}
	for key, arm := range tx.state.arms {
		if arm.ExperimentID == id {
			delete(tx.state.arms, key)
		}
	}
	for sid, snap := range tx.state.snapshots {
		if snap.ExperimentID == id {
			delete(tx.state.snapshots, sid)
		}
	}
	delete(tx.state.experiments, id)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionDelete, Before: cloneExperiment(current)})
	return nil
}

// CreateVariant stores a new variant within the transaction.
func (tx *transaction) CreateVariant(v Variant) (Variant, error) {
	if v.ID == "" {
		v.ID = tx.store.newID()
	}
	if _, exists := tx.state.variants[v.ID]; exists {
		return Variant{}, fmt.Errorf("variant %q already exists", v.ID)
	}
	if _, ok := tx.state.experiments[v.ExperimentID]; !ok {
		return Variant{}, domain.NotFoundError{Entity: domain.EntityExperiment, ID: v.ExperimentID}
	}
	if v.Code == "" {
		return Variant{}, domain.ValidationError{Field: "code", Message: "variant code is required"}
	}
	for _, existing := range tx.state.variants {
		if existing.ExperimentID == v.ExperimentID && existing.Code == v.Code {
			return Variant{}, domain.ValidationError{Field: "code", Message: fmt.Sprintf("variant code %q already in use", v.Code)}
		}
	}
	v.CreatedAt = tx.now
	v.UpdatedAt = tx.now
	tx.state.variants[v.ID] = cloneVariant(v)
	tx.recordChange(Change{Entity: domain.EntityVariant, Action: domain.ActionCreate, After: cloneVariant(v)})
	return cloneVariant(v), nil
}

// UpdateVariant mutates an existing variant.
func (tx *transaction) UpdateVariant(id string, mutator func(*Variant) error) (Variant, error) {
	current, ok := tx.state.variants[id]
	if !ok {
		return Variant{}, domain.NotFoundError{Entity: domain.EntityVariant, ID: id}
	}
	before := cloneVariant(current)
	if err := mutator(&current); err != nil {
		return Variant{}, err
	}
	current.ID = id
	current.ExperimentID = before.ExperimentID
	current.UpdatedAt = tx.now
	tx.state.variants[id] = cloneVariant(current)
	tx.recordChange(Change{Entity: domain.EntityVariant, Action: domain.ActionUpdate, Before: before, After: cloneVariant(current)})
	return cloneVariant(current), nil
}

// DeleteVariant removes a variant from the transaction state.
func (tx *transaction) DeleteVariant(id string) error {
	current, ok := tx.state.variants[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityVariant, ID: id}
	}
	for _, assignment := range tx.state.assignments {
		if assignment.ExperimentID == current.ExperimentID && assignment.VariantCode == current.Code {
			return fmt.Errorf("variant %q still referenced by assignment %q", id, assignment.ID)
		}
	}
	delete(tx.state.arms, armKey(current.ExperimentID, current.Code))
	delete(tx.state.variants, id)
	tx.recordChange(Change{Entity: domain.EntityVariant, Action: domain.ActionDelete, Before: cloneVariant(current)})
	return nil
}

// EnsureAssignment inserts the assignment unless one already exists for its
// (experiment, subject) pair. The existing record wins; first write wins.
func (tx *transaction) EnsureAssignment(a Assignment) (Assignment, bool, error) {
	if existing, ok := findAssignmentBySubject(&tx.state, a.ExperimentID, a.SubjectKey); ok {
		return existing, false, nil
	}
	if _, ok := tx.state.experiments[a.ExperimentID]; !ok {
		return Assignment{}, false, domain.NotFoundError{Entity: domain.EntityExperiment, ID: a.ExperimentID}
	}
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.assignments[a.ID] = a
	tx.state.subjects[subjectKey(a.ExperimentID, a.SubjectKey)] = a.ID
	tx.recordChange(Change{Entity: domain.EntityAssignment, Action: domain.ActionCreate, After: a})
	return a, true, nil
}

// CreateEvent appends an event record.
func (tx *transaction) CreateEvent(e Event) (Event, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.events[e.ID]; exists {
		return Event{}, fmt.Errorf("event %q already exists", e.ID)
	}
	if _, ok := tx.state.assignments[e.AssignmentID]; !ok {
		return Event{}, domain.NotFoundError{Entity: domain.EntityAssignment, ID: e.AssignmentID}
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	if e.OccurredAt.IsZero() {
		e.OccurredAt = tx.now
	}
	tx.state.events[e.ID] = cloneEvent(e)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: cloneEvent(e)})
	return cloneEvent(e), nil
}

// EnsureBanditArm lazily creates the arm backing a variant with the (1,1) prior.
func (tx *transaction) EnsureBanditArm(experimentID, variantCode string) (BanditArm, bool, error) {
	key := armKey(experimentID, variantCode)
	if existing, ok := tx.state.arms[key]; ok {
		return existing, false, nil
	}
	if _, ok := tx.state.experiments[experimentID]; !ok {
		return BanditArm{}, false, domain.NotFoundError{Entity: domain.EntityExperiment, ID: experimentID}
	}
	found := false
	for _, variant := range tx.state.variants {
		if variant.ExperimentID == experimentID && variant.Code == variantCode {
			found = true
			break
		}
	}
	if !found {
		return BanditArm{}, false, domain.NotFoundError{Entity: domain.EntityVariant, ID: variantCode}
	}
	arm := BanditArm{
		ExperimentID: experimentID,
		VariantCode:  variantCode,
		Alpha:        1,
		Beta:         1,
	}
	arm.ID = tx.store.newID()
	arm.CreatedAt = tx.now
	arm.UpdatedAt = tx.now
	tx.state.arms[key] = arm
	tx.recordChange(Change{Entity: domain.EntityBanditArm, Action: domain.ActionCreate, After: arm})
	return arm, true, nil
}

// UpdateBanditArm mutates an arm's Beta parameters and pull counters.
func (tx *transaction) UpdateBanditArm(experimentID, variantCode string, mutator func(*BanditArm) error) (BanditArm, error) {
	key := armKey(experimentID, variantCode)
	current, ok := tx.state.arms[key]
	if !ok {
		return BanditArm{}, domain.NotFoundError{Entity: domain.EntityBanditArm, ID: key}
	}
	before := current
	if err := mutator(&current); err != nil {
		return BanditArm{}, err
	}
	current.ID = before.ID
	current.ExperimentID = before.ExperimentID
	current.VariantCode = before.VariantCode
	current.UpdatedAt = tx.now
	tx.state.arms[key] = current
	tx.recordChange(Change{Entity: domain.EntityBanditArm, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateSnapshot appends an analysis snapshot. Snapshots are never overwritten.
func (tx *transaction) CreateSnapshot(s AnalysisSnapshot) (AnalysisSnapshot, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.snapshots[s.ID]; exists {
		return AnalysisSnapshot{}, fmt.Errorf("snapshot %q already exists", s.ID)
	}
	if _, ok := tx.state.experiments[s.ExperimentID]; !ok {
		return AnalysisSnapshot{}, domain.NotFoundError{Entity: domain.EntityExperiment, ID: s.ExperimentID}
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	if s.TakenAt.IsZero() {
		s.TakenAt = tx.now
	}
	tx.state.snapshots[s.ID] = cloneAnalysisSnapshot(s)
	tx.recordChange(Change{Entity: domain.EntitySnapshot, Action: domain.ActionCreate, After: cloneAnalysisSnapshot(s)})
	return cloneAnalysisSnapshot(s), nil
}

// FindExperiment exposes experiment lookup within the transaction scope.
func (tx *transaction) FindExperiment(id string) (Experiment, bool) {
	e, ok := tx.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

// FindVariant exposes variant lookup by record ID.
func (tx *transaction) FindVariant(id string) (Variant, bool) {
	v, ok := tx.state.variants[id]
	if !ok {
		return Variant{}, false
	}
	return cloneVariant(v), true
}

// FindVariantByCode exposes variant lookup by experiment and short code.
func (tx *transaction) FindVariantByCode(experimentID, code string) (Variant, bool) {
	for _, v := range tx.state.variants {
		if v.ExperimentID == experimentID && v.Code == code {
			return cloneVariant(v), true
		}
	}
	return Variant{}, false
}

// ListVariants returns the experiment's variants ordered by code.
func (tx *transaction) ListVariants(experimentID string) []Variant {
	return listVariants(&tx.state, experimentID)
}

// FindAssignment exposes assignment lookup within the transaction scope.
func (tx *transaction) FindAssignment(id string) (Assignment, bool) {
	a, ok := tx.state.assignments[id]
	if !ok {
		return Assignment{}, false
	}
	return a, true
}

// FindAssignmentBySubject exposes idempotency-key lookup within the transaction scope.
func (tx *transaction) FindAssignmentBySubject(experimentID, subject string) (Assignment, bool) {
	return findAssignmentBySubject(&tx.state, experimentID, subject)
}

// FindBanditArm exposes arm lookup within the transaction scope.
func (tx *transaction) FindBanditArm(experimentID, variantCode string) (BanditArm, bool) {
	arm, ok := tx.state.arms[armKey(experimentID, variantCode)]
	return arm, ok
}

// ListBanditArms returns the experiment's arms ordered by variant code.
func (tx *transaction) ListBanditArms(experimentID string) []BanditArm {
	return listBanditArms(&tx.state, experimentID)
}

// GetExperiment returns an experiment by ID.
func (s *Store) GetExperiment(id string) (Experiment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

// ListExperiments returns all experiments ordered by ID.
func (s *Store) ListExperiments() []Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Experiment, 0, len(s.state.experiments))
	for _, e := range s.state.experiments {
		out = append(out, cloneExperiment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListVariants returns the experiment's variants ordered by code.
func (s *Store) ListVariants(experimentID string) []Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listVariants(&s.state, experimentID)
}

// GetAssignment returns an assignment by ID.
func (s *Store) GetAssignment(id string) (Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.assignments[id]
	if !ok {
		return Assignment{}, false
	}
	return a, true
}

// ListEvents returns all events recorded for the experiment.
func (s *Store) ListEvents(experimentID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEvents(&s.state, experimentID)
}

// ListSnapshots returns the experiment's analysis snapshots ordered by capture time.
func (s *Store) ListSnapshots(experimentID string) []AnalysisSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSnapshots(&s.state, experimentID)
}
