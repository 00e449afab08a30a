package core

import (
	"context"

	"carboncore/pkg/domain"
)

// allocationSumRule gates writes on allocation integrity across the whole
// graph. Shared identifiers whose percentages drift outside tolerance block
// the commit; configuration warnings surface as non-blocking violations. The
// rule evaluates the post-change view, so a transaction that repairs an
// already-broken graph is allowed through.
type allocationSumRule struct{}

// NewAllocationSumRule constructs the allocation sum rule.
func NewAllocationSumRule() domain.Rule { return allocationSumRule{} }

func (allocationSumRule) Name() string { return "allocation_sum" }

func (allocationSumRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touchesNodes := false
	for _, change := range changes {
		if change.Entity == domain.EntityNode {
			touchesNodes = true
			break
		}
	}
	if !touchesNodes {
		return domain.Result{}, nil
	}

	report := ValidateNodeAllocations(view.ListNodes())
	var result domain.Result
	for _, vErr := range report.Errors {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "allocation_sum",
			Severity: domain.SeverityBlock,
			Message:  vErr.Message,
			Entity:   domain.EntityNode,
			EntityID: firstNodeID(vErr.Nodes),
		})
	}
	for _, warn := range report.Warnings {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "allocation_sum",
			Severity: domain.SeverityWarn,
			Message:  warn.Message,
			Entity:   domain.EntityNode,
			EntityID: firstNodeID(warn.Nodes),
		})
	}
	return result, nil
}

func firstNodeID(shares []AllocationNodeShare) string {
	if len(shares) == 0 {
		return ""
	}
	return shares[0].NodeID
}
