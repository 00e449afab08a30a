package core

import (
	"context"
	"fmt"

	"carboncore/pkg/domain"
)

// scopeNameRule blocks any write that leaves a node with duplicate or empty
// scope identifiers. Reconciliation already rejects these at the merge
// boundary; the rule is the backstop for direct mutators that bypass it.
type scopeNameRule struct{}

// NewScopeNameRule constructs the scope name integrity rule.
func NewScopeNameRule() domain.Rule { return scopeNameRule{} }

func (scopeNameRule) Name() string { return "scope_name_integrity" }

func (scopeNameRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityNode || change.Action == domain.ActionDelete {
			continue
		}
		node, ok := change.After.(domain.Node)
		if !ok {
			continue
		}
		seen := make(map[string]bool, len(node.Scopes))
		for _, scope := range node.Scopes {
			switch {
			case scope.Identifier == "":
				result.Violations = append(result.Violations, domain.Violation{
					Rule:     "scope_name_integrity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("node %s has a scope with an empty identifier", node.ID),
					Entity:   domain.EntityNode,
					EntityID: node.ID,
				})
			case seen[scope.Identifier]:
				result.Violations = append(result.Violations, domain.Violation{
					Rule:     "scope_name_integrity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("node %s declares scope %q more than once", node.ID, scope.Identifier),
					Entity:   domain.EntityNode,
					EntityID: node.ID,
				})
			default:
				seen[scope.Identifier] = true
			}
		}
	}
	return result, nil
}
