package core

import (
	"fmt"
	"math"

	"carboncore/pkg/domain"
)

// AllocationTolerance is the permitted deviation from 100 when summing a
// shared identifier's percentages.
const AllocationTolerance = 0.01

// AllocationNodeShare echoes one contributing node/percentage pair inside a
// validation error or warning.
type AllocationNodeShare struct {
	NodeID        string  `json:"nodeId"`
	NodeLabel     string  `json:"nodeLabel"`
	AllocationPct float64 `json:"allocationPct"`
}

// AllocationError reports a shared identifier whose percentages do not sum
// to 100 within tolerance.
type AllocationError struct {
	ScopeIdentifier string                `json:"scopeIdentifier"`
	CurrentSum      float64               `json:"currentSum"`
	Message         string                `json:"message"`
	Nodes           []AllocationNodeShare `json:"nodes"`
}

// AllocationWarning flags a risky but non-blocking configuration.
type AllocationWarning struct {
	ScopeIdentifier string                `json:"scopeIdentifier"`
	Message         string                `json:"message"`
	Nodes           []AllocationNodeShare `json:"nodes"`
}

// ValidationReport is the verdict returned to callers gating a write.
type ValidationReport struct {
	IsValid      bool                `json:"isValid"`
	ErrorCount   int                 `json:"errorCount"`
	WarningCount int                 `json:"warningCount"`
	Errors       []AllocationError   `json:"errors"`
	Warnings     []AllocationWarning `json:"warnings"`
}

// ValidateAllocations certifies every shared identifier in the index: the sum
// of its percentages must land within AllocationTolerance of 100. Groups of
// size one are never validated, but a size-one group storing a percentage
// other than 100 draws a warning: a stale split left over from a sharing
// arrangement that ended would otherwise silently under-count. A shared group
// in which any member still holds the untouched default of exactly 100 also
// draws a warning, since that is a likely unintentional double count even
// when the arithmetic happens to work out.
func ValidateAllocations(idx AllocationIndex) ValidationReport {
	report := ValidationReport{IsValid: true}
	for _, identifier := range idx.Identifiers() {
		entries := idx.Entries(identifier)
		if len(entries) < 2 {
			if len(entries) == 1 && entries[0].AllocationPct != domain.DefaultAllocationPct {
				report.Warnings = append(report.Warnings, AllocationWarning{
					ScopeIdentifier: identifier,
					Message: fmt.Sprintf("scope %q is held by a single node but stores %.2f%%; emissions will be scaled down",
						identifier, entries[0].AllocationPct),
					Nodes: nodeShares(entries),
				})
			}
			continue
		}

		sum := 0.0
		defaultHolders := 0
		for _, entry := range entries {
			sum += entry.AllocationPct
			if entry.AllocationPct == domain.DefaultAllocationPct {
				defaultHolders++
			}
		}
		if math.Abs(sum-100) > AllocationTolerance {
			report.Errors = append(report.Errors, AllocationError{
				ScopeIdentifier: identifier,
				CurrentSum:      sum,
				Message: fmt.Sprintf("allocations for shared scope %q sum to %.2f%%, expected 100%%",
					identifier, sum),
				Nodes: nodeShares(entries),
			})
		}
		if defaultHolders > 0 {
			report.Warnings = append(report.Warnings, AllocationWarning{
				ScopeIdentifier: identifier,
				Message: fmt.Sprintf("shared scope %q has %d node(s) still at the default 100%% allocation",
					identifier, defaultHolders),
				Nodes: nodeShares(entries),
			})
		}
	}
	report.ErrorCount = len(report.Errors)
	report.WarningCount = len(report.Warnings)
	report.IsValid = report.ErrorCount == 0
	return report
}

// ValidateNodeAllocations builds the index for the given graph and validates
// it in one step.
func ValidateNodeAllocations(nodes []Node) ValidationReport {
	return ValidateAllocations(BuildAllocationIndex(nodes, IndexOptions{}))
}

func nodeShares(entries []AllocationEntry) []AllocationNodeShare {
	out := make([]AllocationNodeShare, len(entries))
	for i, entry := range entries {
		out[i] = AllocationNodeShare{NodeID: entry.NodeID, NodeLabel: entry.NodeLabel, AllocationPct: entry.AllocationPct}
	}
	return out
}
