package engine

import "splitlab/pkg/domain"

type (
	EntityType         = domain.EntityType
	ExperimentState    = domain.ExperimentState
	TestMode           = domain.TestMode
	EventType          = domain.EventType
	Severity           = domain.Severity
	Base               = domain.Base
	Experiment         = domain.Experiment
	Variant            = domain.Variant
	Assignment         = domain.Assignment
	Event              = domain.Event
	BanditArm          = domain.BanditArm
	AnalysisResult     = domain.AnalysisResult
	AnalysisSnapshot   = domain.AnalysisSnapshot
	VariantStats       = domain.VariantStats
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityExperiment = domain.EntityExperiment
	EntityVariant    = domain.EntityVariant
	EntityAssignment = domain.EntityAssignment
	EntityEvent      = domain.EntityEvent
	EntityBanditArm  = domain.EntityBanditArm
	EntitySnapshot   = domain.EntitySnapshot
)

const (
	StateDraft          = domain.StateDraft
	StateRunning        = domain.StateRunning
	StatePaused         = domain.StatePaused
	StateCompleted      = domain.StateCompleted
	StateWinnerDeclared = domain.StateWinnerDeclared
	StateCancelled      = domain.StateCancelled
)

const (
	ModeFixedSplit = domain.ModeFixedSplit
	ModeBandit     = domain.ModeBandit
)

const (
	EventImpression = domain.EventImpression
	EventConversion = domain.EventConversion
	EventCustom     = domain.EventCustom
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(StateTransitionRule())
	engine.Register(AllocationSplitRule())
	engine.Register(SingleControlRule())
	return engine
}
