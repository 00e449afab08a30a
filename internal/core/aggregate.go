package core

import (
	"math"
	"time"
)

// detailEpsilon is the CO2e magnitude below which a per-dimension bucket is
// dropped from the summary. Every breakdown map counts as detail; only Totals
// is exempt, so conservation across nodes holds regardless of pruning.
const detailEpsilon = 1e-4

// GasTotals accumulates weighted emission values for one breakdown bucket.
type GasTotals struct {
	CO2e             float64 `json:"co2e"`
	CO2              float64 `json:"co2"`
	CH4              float64 `json:"ch4"`
	N2O              float64 `json:"n2o"`
	Uncertainty      float64 `json:"uncertainty"`
	MeasurementCount int     `json:"measurement_count"`
}

func (t *GasTotals) add(v EmissionValue) {
	t.CO2e += v.CO2e
	t.CO2 += v.CO2
	t.CH4 += v.CH4
	t.N2O += v.N2O
	t.Uncertainty += v.Uncertainty
	t.MeasurementCount++
}

// AggregateFilter restricts which measurements enter an aggregation pass.
// Zero times mean unbounded; empty slices mean no restriction.
type AggregateFilter struct {
	From        time.Time   `json:"from,omitempty"`
	To          time.Time   `json:"to,omitempty"`
	Tiers       []ScopeTier `json:"tiers,omitempty"`
	Identifiers []string    `json:"identifiers,omitempty"`
}

func (f AggregateFilter) admits(m Measurement) bool {
	if !f.From.IsZero() && m.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.Timestamp.Before(f.To) {
		return false
	}
	if len(f.Tiers) > 0 {
		found := false
		for _, tier := range f.Tiers {
			if m.Tier == tier {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Identifiers) > 0 {
		found := false
		for _, id := range f.Identifiers {
			if m.ScopeIdentifier == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AggregateSummary is the multi-dimensional result of one aggregation pass.
// Every bucket is allocation-weighted: a measurement on a scope shared by
// several nodes contributes each node's percentage slice to the node-level
// dimensions, and Totals, ByScopeIdentifier and ByFactorSource receive the sum
// of those slices. The slices recombine to the original value exactly when the
// allocations sum to 100; over an invalid graph the totals carry the shortfall
// or excess instead of hiding it.
type AggregateSummary struct {
	Totals GasTotals `json:"totals"`

	ByTier            map[ScopeTier]GasTotals   `json:"by_tier"`
	ByCategory        map[string]GasTotals      `json:"by_category"`
	ByActivity        map[string]GasTotals      `json:"by_activity"`
	ByNode            map[string]GasTotals      `json:"by_node"`
	ByDepartment      map[string]GasTotals      `json:"by_department"`
	ByLocation        map[string]GasTotals      `json:"by_location"`
	ByInputMethod     map[InputMethod]GasTotals `json:"by_input_method"`
	ByFactorSource    map[string]GasTotals      `json:"by_factor_source"`
	ByScopeIdentifier map[string]GasTotals      `json:"by_scope_identifier"`

	MeasurementCount      int `json:"measurement_count"`
	FilteredCount         int `json:"filtered_count"`
	UnmatchedCount        int `json:"unmatched_count"`
	SharedIdentifierCount int `json:"shared_identifier_count"`

	IsComplete   bool   `json:"is_complete"`
	HasErrors    bool   `json:"has_errors"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// FailedSummary returns the zeroed summary reported when an aggregation pass
// cannot complete. Callers receive it instead of a partial result so a broken
// pass can never be mistaken for a small one.
func FailedSummary(msg string) AggregateSummary {
	s := newSummary()
	s.IsComplete = false
	s.HasErrors = true
	s.ErrorMessage = msg
	return s
}

func newSummary() AggregateSummary {
	return AggregateSummary{
		ByTier:            make(map[ScopeTier]GasTotals),
		ByCategory:        make(map[string]GasTotals),
		ByActivity:        make(map[string]GasTotals),
		ByNode:            make(map[string]GasTotals),
		ByDepartment:      make(map[string]GasTotals),
		ByLocation:        make(map[string]GasTotals),
		ByInputMethod:     make(map[InputMethod]GasTotals),
		ByFactorSource:    make(map[string]GasTotals),
		ByScopeIdentifier: make(map[string]GasTotals),
		IsComplete:        true,
	}
}

// Aggregate folds measurements into an allocation-weighted summary over the
// given node graph. Measurements rejected by the filter count as filtered;
// measurements whose identifier has no live scope entry count as unmatched
// and contribute nothing. The pass itself never fails: bad input shrinks the
// matched set, it does not abort the fold.
func Aggregate(nodes []Node, measurements []Measurement, filter AggregateFilter) AggregateSummary {
	idx := BuildAllocationIndex(nodes, IndexOptions{})
	summary := newSummary()
	summary.SharedIdentifierCount = len(idx.SharedIdentifiers())

	for _, m := range measurements {
		if !filter.admits(m) {
			summary.FilteredCount++
			continue
		}
		entries := idx.Entries(m.ScopeIdentifier)
		if len(entries) == 0 {
			summary.UnmatchedCount++
			continue
		}
		summary.MeasurementCount++

		var weighted EmissionValue
		for _, entry := range entries {
			slice := m.Emissions.Scale(entry.AllocationPct / 100)
			weighted = weighted.Add(slice)
			addBucket(summary.ByTier, entry.Tier, slice)
			addBucket(summary.ByCategory, entry.CategoryName, slice)
			addBucket(summary.ByActivity, entry.ActivityName, slice)
			addBucket(summary.ByNode, entry.NodeID, slice)
			addBucket(summary.ByDepartment, entry.Department, slice)
			addBucket(summary.ByLocation, entry.Location, slice)

			method := m.InputMethod
			if method == "" {
				method = entry.InputMethod
			}
			addBucket(summary.ByInputMethod, method, slice)
		}

		summary.Totals.add(weighted)

		full := summary.ByScopeIdentifier[m.ScopeIdentifier]
		full.add(weighted)
		summary.ByScopeIdentifier[m.ScopeIdentifier] = full

		if m.FactorSource != "" {
			bucket := summary.ByFactorSource[m.FactorSource]
			bucket.add(weighted)
			summary.ByFactorSource[m.FactorSource] = bucket
		}
	}

	pruneDetail(summary.ByTier)
	pruneDetail(summary.ByCategory)
	pruneDetail(summary.ByActivity)
	pruneDetail(summary.ByNode)
	pruneDetail(summary.ByDepartment)
	pruneDetail(summary.ByLocation)
	pruneDetail(summary.ByInputMethod)
	pruneDetail(summary.ByFactorSource)
	pruneDetail(summary.ByScopeIdentifier)
	return summary
}

func addBucket[K comparable](buckets map[K]GasTotals, key K, v EmissionValue) {
	var zero K
	if key == zero {
		return
	}
	bucket := buckets[key]
	bucket.add(v)
	buckets[key] = bucket
}

func pruneDetail[K comparable](buckets map[K]GasTotals) {
	for key, bucket := range buckets {
		if math.Abs(bucket.CO2e) < detailEpsilon {
			delete(buckets, key)
		}
	}
}
