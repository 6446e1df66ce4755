package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	payloadcore "splitlab/internal/payload/core"
	"splitlab/pkg/domain"
)

// Service exposes the transactional experimentation operations: experiment
// lifecycle, deterministic and adaptive assignment, event recording, and
// statistical analysis. It is stateless apart from its injected dependencies
// and safe for concurrent use.
type Service struct {
	store    PersistentStore
	payloads payloadcore.Store
	clock    Clock
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
	rand     *lockedRand
}

// New constructs a service backed by the supplied store.
func New(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
		rand:    defaultRand(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Service operation identifiers used for metrics, traces and audit entries.
const (
	opCreateExperiment   = "create_experiment"
	opAddVariant         = "add_variant"
	opUpdateVariant      = "update_variant"
	opRemoveVariant      = "remove_variant"
	opStartExperiment    = "start_experiment"
	opPauseExperiment    = "pause_experiment"
	opResumeExperiment   = "resume_experiment"
	opCancelExperiment   = "cancel_experiment"
	opCompleteExperiment = "complete_experiment"
	opDeclareWinner      = "declare_winner"
	opAssign             = "assign_subject"
	opRecordEvent        = "record_event"
	opAnalyze            = "analyze_experiment"
)

var auditOperations = map[string]struct {
	Entity EntityType
	Action Action
}{
	opCreateExperiment:   {EntityExperiment, ActionCreate},
	opAddVariant:         {EntityVariant, ActionCreate},
	opUpdateVariant:      {EntityVariant, ActionUpdate},
	opRemoveVariant:      {EntityVariant, ActionDelete},
	opStartExperiment:    {EntityExperiment, ActionUpdate},
	opPauseExperiment:    {EntityExperiment, ActionUpdate},
	opResumeExperiment:   {EntityExperiment, ActionUpdate},
	opCancelExperiment:   {EntityExperiment, ActionUpdate},
	opCompleteExperiment: {EntityExperiment, ActionUpdate},
	opDeclareWinner:      {EntityExperiment, ActionUpdate},
	opAssign:             {EntityAssignment, ActionCreate},
	opRecordEvent:        {EntityEvent, ActionCreate},
	opAnalyze:            {EntitySnapshot, ActionCreate},
}

// run executes fn inside a store transaction wrapped with tracing, metrics,
// audit and logging. auditID, when non-nil, is read after fn completes so
// callers can report the identifier of the entity they produced.
func (s *Service) run(ctx context.Context, operation string, auditID *string, fn func(Transaction) error) (Result, error) {
	started := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	res, err := s.store.RunInTransaction(ctx, fn)
	duration := s.clock.Now().Sub(started)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	span.End(err)
	id := ""
	if auditID != nil {
		id = *auditID
	}
	if err != nil {
		s.recordAuditError(ctx, operation, id, duration, err)
		s.logger.Error("operation failed", "operation", operation, "entity_id", id, "error", err)
	} else {
		s.recordAuditSuccess(ctx, operation, id, duration)
		s.logger.Debug("operation complete", "operation", operation, "entity_id", id)
	}
	return res, err
}

func (s *Service) recordAuditSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	meta, ok := auditOperations[operation]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.Entity,
		Action:    meta.Action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, operation, entityID string, duration time.Duration, err error) {
	meta, ok := auditOperations[operation]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.Entity,
		Action:    meta.Action,
		EntityID:  entityID,
		Status:    AuditStatusError,
		Error:     err.Error(),
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

// VariantDefinition describes one variant at experiment creation time.
// AllocationPct may be left 0 for all variants to request equal shares.
type VariantDefinition struct {
	Code          string
	Payload       json.RawMessage
	AllocationPct float64
	IsControl     bool
}

// ExperimentDefinition is the input shape for CreateExperiment. Zero values
// for PrimaryMetric, ConfidenceThreshold, MinSampleSize and Mode select the
// defaults (conversion_rate, 0.95, 100, fixed_split).
type ExperimentDefinition struct {
	Name                string
	ChannelTag          string
	Mode                TestMode
	PrimaryMetric       string
	ConfidenceThreshold float64
	MinSampleSize       int64
	EndCondition        *domain.EndCondition
	Variants            []VariantDefinition
}

// Defaults applied by CreateExperiment.
const (
	DefaultConfidenceThreshold = 0.95
	DefaultMinSampleSize       = 100
	DefaultPrimaryMetric       = "conversion_rate"
)

// payloadInlineLimit is the size above which variant payloads are offloaded
// to the configured payload store instead of being stored inline.
const payloadInlineLimit = 8 << 10

func validateDefinition(def ExperimentDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return domain.ValidationError{Field: "name", Message: "experiment name is required"}
	}
	if def.Mode != "" && def.Mode != ModeFixedSplit && def.Mode != ModeBandit {
		return domain.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown test mode %q", def.Mode)}
	}
	if def.ConfidenceThreshold < 0 || def.ConfidenceThreshold > 1 {
		return domain.ValidationError{Field: "confidence_threshold", Message: "must be between 0 and 1"}
	}
	if def.MinSampleSize < 0 {
		return domain.ValidationError{Field: "min_sample_size", Message: "must not be negative"}
	}
	seen := make(map[string]struct{}, len(def.Variants))
	controls := 0
	for _, vd := range def.Variants {
		code := strings.TrimSpace(vd.Code)
		if code == "" {
			return domain.ValidationError{Field: "variants", Message: "variant code is required"}
		}
		if _, dup := seen[code]; dup {
			return domain.ValidationError{Field: "variants", Message: fmt.Sprintf("duplicate variant code %q", code)}
		}
		seen[code] = struct{}{}
		if vd.AllocationPct < 0 || vd.AllocationPct > 100 {
			return domain.ValidationError{Field: "variants", Message: fmt.Sprintf("variant %q allocation out of range", code)}
		}
		if vd.IsControl {
			controls++
		}
	}
	if controls > 1 {
		return domain.ValidationError{Field: "variants", Message: "at most one control variant"}
	}
	return nil
}

// CreateExperiment persists a new draft experiment and its variants.
func (s *Service) CreateExperiment(ctx context.Context, def ExperimentDefinition) (Experiment, Result, error) {
	var created Experiment
	var auditID string
	res, err := s.run(ctx, opCreateExperiment, &auditID, func(tx Transaction) error {
		if err := validateDefinition(def); err != nil {
			return err
		}
		exp := Experiment{
			Name:                strings.TrimSpace(def.Name),
			ChannelTag:          def.ChannelTag,
			Mode:                def.Mode,
			PrimaryMetric:       def.PrimaryMetric,
			ConfidenceThreshold: def.ConfidenceThreshold,
			MinSampleSize:       def.MinSampleSize,
			State:               StateDraft,
			EndCondition:        def.EndCondition,
		}
		exp.ID = uuid.NewString()
		if exp.Mode == "" {
			exp.Mode = ModeFixedSplit
		}
		if exp.PrimaryMetric == "" {
			exp.PrimaryMetric = DefaultPrimaryMetric
		}
		if exp.ConfidenceThreshold == 0 {
			exp.ConfidenceThreshold = DefaultConfidenceThreshold
		}
		if exp.MinSampleSize == 0 {
			exp.MinSampleSize = DefaultMinSampleSize
		}
		exp, err := tx.CreateExperiment(exp)
		if err != nil {
			return err
		}
		defaultControl := true
		for _, vd := range def.Variants {
			if vd.IsControl {
				defaultControl = false
			}
		}
		for i, vd := range def.Variants {
			variant := Variant{
				ExperimentID:  exp.ID,
				Code:          strings.TrimSpace(vd.Code),
				IsControl:     vd.IsControl || (defaultControl && i == 0),
				AllocationPct: vd.AllocationPct,
			}
			inline, ref, err := s.storeVariantPayload(ctx, exp.ID, variant.Code, vd.Payload)
			if err != nil {
				return err
			}
			variant.Payload = inline
			variant.PayloadRef = ref
			if _, err := tx.CreateVariant(variant); err != nil {
				return err
			}
		}
		created = exp
		auditID = exp.ID
		return nil
	})
	return created, res, err
}

// storeVariantPayload keeps small payloads inline and offloads large ones to
// the payload store, returning a reference key instead.
func (s *Service) storeVariantPayload(ctx context.Context, experimentID, code string, raw json.RawMessage) (domain.Payload, string, error) {
	if len(raw) == 0 {
		return domain.UndefinedPayload(), "", nil
	}
	if s.payloads == nil || len(raw) <= payloadInlineLimit {
		return domain.NewPayload(raw), "", nil
	}
	key := fmt.Sprintf("experiments/%s/variants/%s.json", experimentID, code)
	_, err := s.payloads.Put(ctx, key, bytes.NewReader(raw), payloadcore.PutOptions{ContentType: "application/json"})
	if err != nil {
		return domain.Payload{}, "", fmt.Errorf("offload variant payload: %w", err)
	}
	return domain.UndefinedPayload(), key, nil
}

// VariantPayload resolves a variant's content payload, fetching offloaded
// payloads from the payload store when needed.
func (s *Service) VariantPayload(ctx context.Context, variant Variant) (json.RawMessage, error) {
	if variant.PayloadRef == "" {
		return variant.Payload.Raw(), nil
	}
	if s.payloads == nil {
		return nil, fmt.Errorf("variant %s payload is offloaded but no payload store is configured", variant.Code)
	}
	_, rc, err := s.payloads.Get(ctx, variant.PayloadRef)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// AddVariant appends a variant to a draft experiment.
func (s *Service) AddVariant(ctx context.Context, experimentID string, def VariantDefinition) (Variant, Result, error) {
	var created Variant
	var auditID string
	res, err := s.run(ctx, opAddVariant, &auditID, func(tx Transaction) error {
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		if exp.State != StateDraft {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: "edit variants"}
		}
		if def.AllocationPct < 0 || def.AllocationPct > 100 {
			return domain.ValidationError{Field: "allocation_pct", Message: "allocation out of range"}
		}
		variant := Variant{
			ExperimentID:  experimentID,
			Code:          strings.TrimSpace(def.Code),
			IsControl:     def.IsControl,
			AllocationPct: def.AllocationPct,
		}
		inline, ref, err := s.storeVariantPayload(ctx, experimentID, variant.Code, def.Payload)
		if err != nil {
			return err
		}
		variant.Payload = inline
		variant.PayloadRef = ref
		created, err = tx.CreateVariant(variant)
		if err != nil {
			return err
		}
		auditID = created.ID
		return nil
	})
	return created, res, err
}

// UpdateVariant mutates a variant of a draft experiment.
func (s *Service) UpdateVariant(ctx context.Context, experimentID, code string, mutator func(*Variant) error) (Variant, Result, error) {
	var updated Variant
	var auditID string
	res, err := s.run(ctx, opUpdateVariant, &auditID, func(tx Transaction) error {
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		if exp.State != StateDraft {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: "edit variants"}
		}
		variant, ok := tx.FindVariantByCode(experimentID, code)
		if !ok {
			return domain.NotFoundError{Entity: EntityVariant, ID: code}
		}
		var err error
		updated, err = tx.UpdateVariant(variant.ID, mutator)
		if err != nil {
			return err
		}
		auditID = updated.ID
		return nil
	})
	return updated, res, err
}

// RemoveVariant deletes a variant from a draft experiment.
func (s *Service) RemoveVariant(ctx context.Context, experimentID, code string) (Result, error) {
	var auditID string
	var payloadRef string
	res, err := s.run(ctx, opRemoveVariant, &auditID, func(tx Transaction) error {
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		if exp.State != StateDraft {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: "edit variants"}
		}
		variant, ok := tx.FindVariantByCode(experimentID, code)
		if !ok {
			return domain.NotFoundError{Entity: EntityVariant, ID: code}
		}
		auditID = variant.ID
		payloadRef = variant.PayloadRef
		return tx.DeleteVariant(variant.ID)
	})
	if err == nil && payloadRef != "" && s.payloads != nil {
		if _, derr := s.payloads.Delete(ctx, payloadRef); derr != nil {
			s.logger.Warn("orphaned variant payload not deleted", "key", payloadRef, "error", derr)
		}
	}
	return res, err
}

// StartExperiment validates the variant configuration and moves a draft
// experiment to running. Unset allocations are normalized to equal shares;
// set allocations must sum to 100.
func (s *Service) StartExperiment(ctx context.Context, experimentID string) (Experiment, Result, error) {
	var started Experiment
	res, err := s.run(ctx, opStartExperiment, &experimentID, func(tx Transaction) error {
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		if exp.State != StateDraft {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: "start"}
		}
		variants := tx.ListVariants(experimentID)
		if len(variants) < 2 {
			return domain.ValidationError{Field: "variants", Message: "experiment needs at least 2 variants to start"}
		}
		controls := 0
		for _, v := range variants {
			if v.IsControl {
				controls++
			}
		}
		if controls > 1 {
			return domain.ValidationError{Field: "variants", Message: "exactly one control variant required"}
		}
		if controls == 0 {
			first := variants[0]
			v, err := tx.UpdateVariant(first.ID, func(v *Variant) error {
				v.IsControl = true
				return nil
			})
			if err != nil {
				return err
			}
			variants[0] = v
		}
		if err := normalizeAllocations(tx, variants); err != nil {
			return err
		}
		now := s.clock.Now()
		var err error
		started, err = tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.State = StateRunning
			e.StartedAt = &now
			return nil
		})
		return err
	})
	return started, res, err
}

// normalizeAllocations assigns equal shares when every allocation is unset
// and otherwise verifies the configured percentages sum to 100.
func normalizeAllocations(tx Transaction, variants []Variant) error {
	total := 0.0
	for _, v := range variants {
		total += v.AllocationPct
	}
	if total == 0 {
		share := 100.0 / float64(len(variants))
		remaining := 100.0
		for i, v := range variants {
			pct := share
			if i == len(variants)-1 {
				pct = remaining
			}
			remaining -= pct
			if _, err := tx.UpdateVariant(v.ID, func(v *Variant) error {
				v.AllocationPct = pct
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	}
	if total < 100-allocationTolerance || total > 100+allocationTolerance {
		return domain.ValidationError{
			Field:   "allocation_pct",
			Message: fmt.Sprintf("variant allocations sum to %.2f, want 100", total),
		}
	}
	return nil
}

// PauseExperiment suspends assignment for a running experiment. Events for
// existing assignments are still accepted while paused.
func (s *Service) PauseExperiment(ctx context.Context, experimentID string) (Experiment, Result, error) {
	return s.transition(ctx, opPauseExperiment, experimentID, "pause", StatePaused, StateRunning)
}

// ResumeExperiment resumes assignment for a paused experiment.
func (s *Service) ResumeExperiment(ctx context.Context, experimentID string) (Experiment, Result, error) {
	return s.transition(ctx, opResumeExperiment, experimentID, "resume", StateRunning, StatePaused)
}

// CancelExperiment aborts an experiment from any non-terminal state.
// Existing assignments remain valid for historical reporting.
func (s *Service) CancelExperiment(ctx context.Context, experimentID string) (Experiment, Result, error) {
	return s.transition(ctx, opCancelExperiment, experimentID, "cancel", StateCancelled,
		StateDraft, StateRunning, StatePaused)
}

// CompleteExperiment ends a running or paused experiment without declaring a
// winner. When an end condition is configured it must have been reached.
func (s *Service) CompleteExperiment(ctx context.Context, experimentID string) (Experiment, Result, error) {
	var completed Experiment
	res, err := s.run(ctx, opCompleteExperiment, &experimentID, func(tx Transaction) error {
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		if exp.State != StateRunning && exp.State != StatePaused {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: "complete"}
		}
		if exp.EndCondition != nil {
			var total int64
			for _, v := range tx.ListVariants(experimentID) {
				total += v.SampleSize
			}
			if !endConditionMet(exp, s.clock.Now(), total) {
				return domain.ValidationError{Field: "end_condition", Message: "configured end condition has not been reached"}
			}
		}
		now := s.clock.Now()
		var err error
		completed, err = tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.State = StateCompleted
			e.EndedAt = &now
			return nil
		})
		return err
	})
	return completed, res, err
}

func (s *Service) transition(ctx context.Context, operation, experimentID, verb string, target ExperimentState, from ...ExperimentState) (Experiment, Result, error) {
	var updated Experiment
	res, err := s.run(ctx, operation, &experimentID, func(tx Transaction) error {
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		legal := false
		for _, state := range from {
			if exp.State == state {
				legal = true
				break
			}
		}
		if !legal {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: verb}
		}
		now := s.clock.Now()
		var err error
		updated, err = tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.State = target
			if target.Terminal() {
				e.EndedAt = &now
			}
			return nil
		})
		return err
	})
	return updated, res, err
}

// endConditionMet reports whether an experiment's configured end bound has
// been reached.
func endConditionMet(exp Experiment, now time.Time, totalSample int64) bool {
	if exp.EndCondition == nil {
		return false
	}
	if exp.EndCondition.EndAt != nil && !now.Before(*exp.EndCondition.EndAt) {
		return true
	}
	if exp.EndCondition.MaxSamples != nil && totalSample >= *exp.EndCondition.MaxSamples {
		return true
	}
	return false
}

// SweepEndConditions completes every running or paused experiment whose end
// condition has been met, returning the experiments it completed. Intended
// to be called on a schedule.
func (s *Service) SweepEndConditions(ctx context.Context) ([]Experiment, error) {
	var due []string
	now := s.clock.Now()
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, exp := range view.ListExperiments() {
			if exp.State != StateRunning && exp.State != StatePaused {
				continue
			}
			var total int64
			for _, v := range view.ListVariants(exp.ID) {
				total += v.SampleSize
			}
			if endConditionMet(exp, now, total) {
				due = append(due, exp.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var completed []Experiment
	for _, id := range due {
		exp, _, err := s.CompleteExperiment(ctx, id)
		if err != nil {
			return completed, err
		}
		completed = append(completed, exp)
	}
	return completed, nil
}

// AssignmentDecision is the outcome of an Assign call: the variant the
// subject landed in, its content payload, and whether this call created the
// assignment or returned an existing one.
type AssignmentDecision struct {
	AssignmentID string
	ExperimentID string
	SubjectKey   string
	VariantCode  string
	Payload      json.RawMessage
	Created      bool
}

// Assign resolves the variant for a subject. The decision is deterministic
// for fixed-split experiments and sampled from the bandit arms for adaptive
// ones; either way it is idempotent, so repeated calls for the same subject
// return the original assignment.
func (s *Service) Assign(ctx context.Context, experimentID, subjectKey string) (AssignmentDecision, Result, error) {
	var decision AssignmentDecision
	var chosen Variant
	var auditID string
	res, err := s.run(ctx, opAssign, &auditID, func(tx Transaction) error {
		if strings.TrimSpace(subjectKey) == "" {
			return domain.ValidationError{Field: "subject_key", Message: "subject key is required"}
		}
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		if existing, ok := tx.FindAssignmentBySubject(experimentID, subjectKey); ok {
			variant, ok := tx.FindVariantByCode(experimentID, existing.VariantCode)
			if !ok {
				return domain.NotFoundError{Entity: EntityVariant, ID: existing.VariantCode}
			}
			chosen = variant
			decision = AssignmentDecision{
				AssignmentID: existing.ID,
				ExperimentID: experimentID,
				SubjectKey:   subjectKey,
				VariantCode:  existing.VariantCode,
			}
			auditID = existing.ID
			return nil
		}
		if exp.State != StateRunning {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: "assign"}
		}
		variants := tx.ListVariants(experimentID)
		if len(variants) < 2 {
			return domain.ValidationError{Field: "variants", Message: "experiment has fewer than 2 variants"}
		}
		var err error
		if exp.Mode == ModeBandit {
			chosen, err = s.pickAdaptive(tx, experimentID, variants)
		} else {
			chosen = chooseVariant(variants, bucketFor(experimentID, subjectKey))
		}
		if err != nil {
			return err
		}
		created, fresh, err := tx.EnsureAssignment(Assignment{
			ExperimentID: experimentID,
			SubjectKey:   subjectKey,
			VariantCode:  chosen.Code,
		})
		if err != nil {
			return err
		}
		if fresh {
			if _, err := tx.UpdateVariant(chosen.ID, func(v *Variant) error {
				v.SampleSize++
				return nil
			}); err != nil {
				return err
			}
			if exp.Mode == ModeBandit {
				if _, err := tx.UpdateBanditArm(experimentID, chosen.Code, func(arm *BanditArm) error {
					arm.Pulls++
					return nil
				}); err != nil {
					return err
				}
			}
		}
		decision = AssignmentDecision{
			AssignmentID: created.ID,
			ExperimentID: experimentID,
			SubjectKey:   subjectKey,
			VariantCode:  created.VariantCode,
			Created:      fresh,
		}
		auditID = created.ID
		return nil
	})
	if err != nil {
		return AssignmentDecision{}, res, err
	}
	payload, err := s.VariantPayload(ctx, chosen)
	if err != nil {
		return AssignmentDecision{}, res, err
	}
	decision.Payload = payload
	return decision, res, err
}

// pickAdaptive lazily materializes the bandit arms for every variant and
// Thompson-samples one.
func (s *Service) pickAdaptive(tx Transaction, experimentID string, variants []Variant) (Variant, error) {
	arms := make([]BanditArm, 0, len(variants))
	for _, v := range variants {
		arm, _, err := tx.EnsureBanditArm(experimentID, v.Code)
		if err != nil {
			return Variant{}, err
		}
		arms = append(arms, arm)
	}
	return variants[thompsonPick(s.rand, arms)], nil
}

// RecordEvent appends an engagement event and updates the owning variant's
// counters (and bandit arm, for adaptive experiments) in the same
// transaction.
func (s *Service) RecordEvent(ctx context.Context, assignmentID string, eventType EventType, value *float64) (Event, Result, error) {
	var recorded Event
	var auditID string
	res, err := s.run(ctx, opRecordEvent, &auditID, func(tx Transaction) error {
		switch eventType {
		case EventImpression, EventConversion, EventCustom:
		default:
			return domain.ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type %q", eventType)}
		}
		assignment, ok := tx.FindAssignment(assignmentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityAssignment, ID: assignmentID}
		}
		exp, ok := tx.FindExperiment(assignment.ExperimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: assignment.ExperimentID}
		}
		if exp.State.Terminal() {
			return domain.StateError{ExperimentID: exp.ID, State: exp.State, Operation: "record events"}
		}
		variant, ok := tx.FindVariantByCode(assignment.ExperimentID, assignment.VariantCode)
		if !ok {
			return domain.NotFoundError{Entity: EntityVariant, ID: assignment.VariantCode}
		}
		var err error
		recorded, err = tx.CreateEvent(Event{
			AssignmentID: assignmentID,
			ExperimentID: assignment.ExperimentID,
			VariantCode:  assignment.VariantCode,
			Type:         eventType,
			Value:        value,
			OccurredAt:   s.clock.Now(),
		})
		if err != nil {
			return err
		}
		auditID = recorded.ID
		if _, err := tx.UpdateVariant(variant.ID, func(v *Variant) error {
			switch eventType {
			case EventImpression:
				v.Impressions++
			case EventConversion:
				v.Conversions++
				if value != nil {
					v.TotalValue += *value
				}
			case EventCustom:
				if value != nil {
					v.TotalValue += *value
				}
			}
			v.RefreshDerived()
			return nil
		}); err != nil {
			return err
		}
		if exp.Mode == ModeBandit && eventType != EventCustom {
			if _, _, err := tx.EnsureBanditArm(exp.ID, variant.Code); err != nil {
				return err
			}
			if _, err := tx.UpdateBanditArm(exp.ID, variant.Code, func(arm *BanditArm) error {
				switch eventType {
				case EventImpression:
					arm.Beta++
				case EventConversion:
					arm.Alpha++
					arm.Rewards++
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return recorded, res, err
}

// Analyze computes the statistics for an experiment, refreshes the cached
// lift and confidence fields on its variants, and persists an append-only
// snapshot of the result.
func (s *Service) Analyze(ctx context.Context, experimentID string) (AnalysisResult, Result, error) {
	var analysis AnalysisResult
	var auditID string
	res, err := s.run(ctx, opAnalyze, &auditID, func(tx Transaction) error {
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		if exp.State == StateDraft {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: "analyze"}
		}
		variants := tx.ListVariants(experimentID)
		analysis = analyzeVariants(exp, variants)
		for _, stats := range analysis.Variants {
			if stats.IsControl {
				continue
			}
			variant, ok := tx.FindVariantByCode(experimentID, stats.Code)
			if !ok {
				continue
			}
			lift, confidence := stats.LiftVsControl, stats.ConfidenceVsControl
			if _, err := tx.UpdateVariant(variant.ID, func(v *Variant) error {
				v.LiftVsControl = lift
				v.ConfidenceVsControl = confidence
				return nil
			}); err != nil {
				return err
			}
		}
		snapshot, err := tx.CreateSnapshot(AnalysisSnapshot{
			ExperimentID: experimentID,
			TakenAt:      s.clock.Now(),
			Result:       analysis,
		})
		if err != nil {
			return err
		}
		auditID = snapshot.ID
		return nil
	})
	return analysis, res, err
}

// DeclareWinner declares the named variant the winner of a running or paused
// experiment, capturing its confidence and lift at declaration time.
func (s *Service) DeclareWinner(ctx context.Context, experimentID, variantCode string) (Experiment, Result, error) {
	return s.declareWinner(ctx, experimentID, variantCode, false)
}

// DeclareWinnerAuto declares the statistics engine's current winner, failing
// when the winner guard (confidence threshold and minimum samples) is not
// yet satisfied.
func (s *Service) DeclareWinnerAuto(ctx context.Context, experimentID string) (Experiment, Result, error) {
	return s.declareWinner(ctx, experimentID, "", true)
}

func (s *Service) declareWinner(ctx context.Context, experimentID, variantCode string, auto bool) (Experiment, Result, error) {
	var declared Experiment
	res, err := s.run(ctx, opDeclareWinner, &experimentID, func(tx Transaction) error {
		exp, ok := tx.FindExperiment(experimentID)
		if !ok {
			return domain.NotFoundError{Entity: EntityExperiment, ID: experimentID}
		}
		if exp.State != StateRunning && exp.State != StatePaused {
			return domain.StateError{ExperimentID: experimentID, State: exp.State, Operation: "declare winner"}
		}
		analysis := analyzeVariants(exp, tx.ListVariants(experimentID))
		code := variantCode
		if auto {
			if !analysis.CanDeclareWinner {
				return domain.ValidationError{
					Field:   "winner",
					Message: fmt.Sprintf("confidence %.4f has not met threshold %.2f at the required sample size", analysis.Confidence, exp.ConfidenceThreshold),
				}
			}
			code = analysis.CurrentWinner
		}
		var stats *VariantStats
		for i := range analysis.Variants {
			if analysis.Variants[i].Code == code {
				stats = &analysis.Variants[i]
				break
			}
		}
		if stats == nil {
			return domain.ValidationError{Field: "variant_code", Message: fmt.Sprintf("unknown variant %q", code)}
		}
		now := s.clock.Now()
		var err error
		declared, err = tx.UpdateExperiment(experimentID, func(e *Experiment) error {
			e.State = StateWinnerDeclared
			e.EndedAt = &now
			e.Winner = &domain.WinnerRecord{
				VariantCode:  code,
				Confidence:   stats.ConfidenceVsControl,
				Lift:         stats.LiftVsControl,
				AutoDeclared: auto,
				DeclaredAt:   now,
			}
			return nil
		})
		return err
	})
	return declared, res, err
}

// Experiment returns a single experiment by id.
func (s *Service) Experiment(id string) (Experiment, bool) {
	return s.store.GetExperiment(id)
}

// Experiments lists all experiments.
func (s *Service) Experiments() []Experiment {
	return s.store.ListExperiments()
}

// Variants lists an experiment's variants sorted by code.
func (s *Service) Variants(experimentID string) []Variant {
	return s.store.ListVariants(experimentID)
}

// Snapshots lists an experiment's analysis snapshots in capture order.
func (s *Service) Snapshots(experimentID string) []AnalysisSnapshot {
	return s.store.ListSnapshots(experimentID)
}

// Events lists an experiment's recorded events ordered by occurrence.
func (s *Service) Events(experimentID string) []Event {
	return s.store.ListEvents(experimentID)
}
