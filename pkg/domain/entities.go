// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by carboncore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityNode identifies a process-graph node record.
	EntityNode EntityType = "node"
	// EntityMeasurement identifies an emission measurement record.
	EntityMeasurement EntityType = "measurement"
)

// ScopeTier represents the three ordinal emission classification tiers.
type ScopeTier int

// Canonical classification tiers per the GHG Protocol scope numbering.
const (
	// TierDirect covers emissions from sources owned or controlled by the org.
	TierDirect ScopeTier = 1
	// TierEnergyIndirect covers emissions from purchased energy.
	TierEnergyIndirect ScopeTier = 2
	// TierOtherIndirect covers all remaining value-chain emissions.
	TierOtherIndirect ScopeTier = 3
)

// Valid reports whether the tier is one of the three canonical values.
func (t ScopeTier) Valid() bool {
	return t >= TierDirect && t <= TierOtherIndirect
}

// InputMethod enumerates how a scope's measurements enter the system.
type InputMethod string

// Canonical input methods recognised by the reconciler and aggregator.
const (
	InputManual    InputMethod = "manual"
	InputTelemetry InputMethod = "telemetry"
	InputAPI       InputMethod = "api"
)

// DefaultAllocationPct is applied whenever a scope instance carries no
// explicit allocation. A single-node scope must store 100 or its emissions
// are silently truncated by the weighting pass.
const DefaultAllocationPct = 100.0

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node is one unit in the emission process graph: a facility, department
// slice, or process that declares emission-producing scopes.
type Node struct {
	Base
	Label      string          `json:"label"`
	Department string          `json:"department"`
	Location   string          `json:"location"`
	Latitude   *float64        `json:"latitude,omitempty"`
	Longitude  *float64        `json:"longitude,omitempty"`
	Deleted    bool            `json:"deleted"`
	Scopes     []ScopeInstance `json:"scopes"`
}

// ScopeInstance is one node's declaration of an emission-producing activity.
// ScopeUID is assigned once and never reused; Identifier is the human-editable
// name and may be renamed without breaking continuity.
type ScopeInstance struct {
	ScopeUID      string                        `json:"scope_uid"`
	Identifier    string                        `json:"identifier"`
	Tier          ScopeTier                     `json:"tier"`
	InputMethod   InputMethod                   `json:"input_method"`
	CategoryName  string                        `json:"category_name"`
	ActivityName  string                        `json:"activity_name"`
	AllocationPct float64                       `json:"allocation_pct"`
	Deleted       bool                          `json:"deleted"`
	Imported      bool                          `json:"imported"`
	FactorSources map[string]FactorSourceConfig `json:"factor_sources,omitempty"`
	Overrides     map[string]float64            `json:"overrides,omitempty"`
}

// FactorSourceConfig holds per-source manual emission-factor overrides.
// Fields are merged additively during reconciliation: an incoming nil field
// never clears an existing value.
type FactorSourceConfig struct {
	Factor           *float64 `json:"factor,omitempty"`
	Unit             string   `json:"unit,omitempty"`
	DocumentationURL string   `json:"documentation_url,omitempty"`
}

// ScopeEdit is one incoming partial edit for a node's scope list. Zero-valued
// fields mean "unchanged"; pointer fields distinguish absent from explicit.
// RawOverrides may arrive under historical alias names and are resolved to
// canonical keys once, at the reconciliation boundary.
type ScopeEdit struct {
	ScopeUID      string                        `json:"scope_uid,omitempty"`
	Identifier    string                        `json:"identifier"`
	RenamedFrom   string                        `json:"renamed_from,omitempty"`
	Tier          ScopeTier                     `json:"tier,omitempty"`
	InputMethod   InputMethod                   `json:"input_method,omitempty"`
	CategoryName  string                        `json:"category_name,omitempty"`
	ActivityName  string                        `json:"activity_name,omitempty"`
	AllocationPct *float64                      `json:"allocation_pct,omitempty"`
	Deleted       *bool                         `json:"deleted,omitempty"`
	Imported      *bool                         `json:"imported,omitempty"`
	FactorSources map[string]FactorSourceConfig `json:"factor_sources,omitempty"`
	RawOverrides  map[string]*float64           `json:"raw_overrides,omitempty"`
}

// EmissionValue is the already-computed emission tuple attached to a
// measurement: four gas components plus an uncertainty figure. Factor lookup
// and unit conversion happen upstream; the engine treats this as opaque input.
type EmissionValue struct {
	CO2e        float64 `json:"co2e"`
	CO2         float64 `json:"co2"`
	CH4         float64 `json:"ch4"`
	N2O         float64 `json:"n2o"`
	Uncertainty float64 `json:"uncertainty"`
}

// Add returns the component-wise sum of two tuples.
func (v EmissionValue) Add(o EmissionValue) EmissionValue {
	return EmissionValue{
		CO2e:        v.CO2e + o.CO2e,
		CO2:         v.CO2 + o.CO2,
		CH4:         v.CH4 + o.CH4,
		N2O:         v.N2O + o.N2O,
		Uncertainty: v.Uncertainty + o.Uncertainty,
	}
}

// Scale returns the tuple weighted by the given factor.
func (v EmissionValue) Scale(f float64) EmissionValue {
	return EmissionValue{
		CO2e:        v.CO2e * f,
		CO2:         v.CO2 * f,
		CH4:         v.CH4 * f,
		N2O:         v.N2O * f,
		Uncertainty: v.Uncertainty * f,
	}
}

// Measurement is an externally produced emission record tagged with the scope
// identifier it belongs to. Immutable once stored.
type Measurement struct {
	ID              string        `json:"id"`
	ScopeIdentifier string        `json:"scope_identifier"`
	Tier            ScopeTier     `json:"tier"`
	Timestamp       time.Time     `json:"timestamp"`
	InputMethod     InputMethod   `json:"input_method"`
	FactorSource    string        `json:"factor_source"`
	Emissions       EmissionValue `json:"emissions"`
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

// Change actions enumerate supported mutations captured for rule evaluation.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)
