package core

import "carboncore/pkg/domain"

type (
	EntityType         = domain.EntityType
	ScopeTier          = domain.ScopeTier
	InputMethod        = domain.InputMethod
	Severity           = domain.Severity
	Base               = domain.Base
	Node               = domain.Node
	ScopeInstance      = domain.ScopeInstance
	ScopeEdit          = domain.ScopeEdit
	FactorSourceConfig = domain.FactorSourceConfig
	Measurement        = domain.Measurement
	EmissionValue      = domain.EmissionValue
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	ScopeNameError     = domain.ScopeNameError
)

const (
	EntityNode        = domain.EntityNode
	EntityMeasurement = domain.EntityMeasurement
)

const (
	TierDirect         = domain.TierDirect
	TierEnergyIndirect = domain.TierEnergyIndirect
	TierOtherIndirect  = domain.TierOtherIndirect
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

// NewRulesEngine constructs a rules engine with no rules registered.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }

// DefaultRulesEngine returns an engine with the standard write-gating rules:
// scope name integrity first, then allocation sum validation.
func DefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewScopeNameRule())
	engine.Register(NewAllocationSumRule())
	return engine
}
