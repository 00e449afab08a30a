package core

import (
	"carboncore/pkg/domain"

	"github.com/google/uuid"
)

// matchStrategy selects the index of the existing instance an edit refers to,
// or -1. Strategies are pure over (edit, candidates); consumed candidates are
// masked out before each call so an instance is matched at most once.
type matchStrategy struct {
	name string
	pick func(edit ScopeEdit, existing []ScopeInstance, consumed []bool) int
}

// matchStrategies is the reconciliation matching order. First match wins:
// stable uid, current name, previous-name hint, then a last-resort heuristic
// on classification. Anything unmatched becomes a new instance.
var matchStrategies = []matchStrategy{
	{name: "scope_uid", pick: func(edit ScopeEdit, existing []ScopeInstance, consumed []bool) int {
		if edit.ScopeUID == "" {
			return -1
		}
		for i, inst := range existing {
			if !consumed[i] && inst.ScopeUID == edit.ScopeUID {
				return i
			}
		}
		return -1
	}},
	{name: "identifier", pick: func(edit ScopeEdit, existing []ScopeInstance, consumed []bool) int {
		if edit.Identifier == "" {
			return -1
		}
		for i, inst := range existing {
			if !consumed[i] && inst.Identifier == edit.Identifier {
				return i
			}
		}
		return -1
	}},
	{name: "renamed_from", pick: func(edit ScopeEdit, existing []ScopeInstance, consumed []bool) int {
		if edit.RenamedFrom == "" {
			return -1
		}
		for i, inst := range existing {
			if !consumed[i] && inst.Identifier == edit.RenamedFrom {
				return i
			}
		}
		return -1
	}},
	{name: "classification", pick: func(edit ScopeEdit, existing []ScopeInstance, consumed []bool) int {
		if edit.Tier == 0 || edit.CategoryName == "" || edit.ActivityName == "" {
			return -1
		}
		for i, inst := range existing {
			if consumed[i] {
				continue
			}
			if inst.Tier == edit.Tier && inst.CategoryName == edit.CategoryName && inst.ActivityName == edit.ActivityName {
				return i
			}
		}
		return -1
	}},
}

// ReconcileScopes merges an incoming edit list into a node's existing scope
// instances, preserving scopeUid continuity across renames and partial
// updates. Existing instances not referenced by any edit pass through
// untouched, in their original position. New instances are appended in edit
// order with freshly minted uids.
//
// Returns a *domain.ScopeNameError when the merged list would contain
// duplicate or empty identifiers; this check runs before any allocation
// validation.
func ReconcileScopes(nodeID string, existing []ScopeInstance, edits []ScopeEdit) ([]ScopeInstance, error) {
	merged := make([]ScopeInstance, len(existing))
	copy(merged, existing)
	consumed := make([]bool, len(existing))

	var appended []ScopeInstance
	for _, edit := range edits {
		idx := -1
		for _, strategy := range matchStrategies {
			if i := strategy.pick(edit, merged, consumed); i >= 0 {
				idx = i
				break
			}
		}
		if idx >= 0 {
			consumed[idx] = true
			merged[idx] = mergeScope(merged[idx], edit)
			continue
		}
		appended = append(appended, newScopeFromEdit(edit))
	}
	merged = append(merged, appended...)

	if err := validateScopeNames(nodeID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeScope applies an edit over an existing instance: incoming non-empty
// values win, factor sources merge key-by-key, allocation carries forward,
// and numeric overrides resolve through the alias table.
func mergeScope(current ScopeInstance, edit ScopeEdit) ScopeInstance {
	out := current
	if edit.Identifier != "" {
		out.Identifier = edit.Identifier
	}
	if edit.Tier != 0 {
		out.Tier = edit.Tier
	}
	if edit.InputMethod != "" {
		out.InputMethod = edit.InputMethod
	}
	if edit.CategoryName != "" {
		out.CategoryName = edit.CategoryName
	}
	if edit.ActivityName != "" {
		out.ActivityName = edit.ActivityName
	}
	switch {
	case edit.AllocationPct != nil:
		out.AllocationPct = *edit.AllocationPct
	case current.AllocationPct != 0:
		// existing value retained
	default:
		out.AllocationPct = domain.DefaultAllocationPct
	}
	if edit.Deleted != nil {
		out.Deleted = *edit.Deleted
	}
	if edit.Imported != nil {
		out.Imported = *edit.Imported
	}
	out.FactorSources = mergeFactorSources(current.FactorSources, edit.FactorSources)
	out.Overrides = resolveOverrides(edit.RawOverrides, current.Overrides)
	return out
}

// mergeFactorSources merges incoming factor-source blocks over existing ones
// per source key. Manual override fields are additive: a nil or empty incoming
// field never clears the existing value.
func mergeFactorSources(existing, incoming map[string]FactorSourceConfig) map[string]FactorSourceConfig {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make(map[string]FactorSourceConfig, len(existing)+len(incoming))
	for source, cfg := range existing {
		out[source] = cloneFactorSource(cfg)
	}
	for source, in := range incoming {
		cfg := out[source]
		if in.Factor != nil {
			f := *in.Factor
			cfg.Factor = &f
		}
		if in.Unit != "" {
			cfg.Unit = in.Unit
		}
		if in.DocumentationURL != "" {
			cfg.DocumentationURL = in.DocumentationURL
		}
		out[source] = cfg
	}
	return out
}

func cloneFactorSource(cfg FactorSourceConfig) FactorSourceConfig {
	cp := cfg
	if cfg.Factor != nil {
		f := *cfg.Factor
		cp.Factor = &f
	}
	return cp
}

func newScopeFromEdit(edit ScopeEdit) ScopeInstance {
	inst := ScopeInstance{
		ScopeUID:      uuid.NewString(),
		Identifier:    edit.Identifier,
		Tier:          edit.Tier,
		InputMethod:   edit.InputMethod,
		CategoryName:  edit.CategoryName,
		ActivityName:  edit.ActivityName,
		AllocationPct: domain.DefaultAllocationPct,
		FactorSources: mergeFactorSources(nil, edit.FactorSources),
		Overrides:     resolveOverrides(edit.RawOverrides, nil),
	}
	if edit.AllocationPct != nil {
		inst.AllocationPct = *edit.AllocationPct
	}
	if edit.Deleted != nil {
		inst.Deleted = *edit.Deleted
	}
	if edit.Imported != nil {
		inst.Imported = *edit.Imported
	}
	return inst
}

// validateScopeNames enforces the post-merge invariant: identifiers within a
// node are unique and non-empty.
func validateScopeNames(nodeID string, scopes []ScopeInstance) error {
	seen := make(map[string]bool, len(scopes))
	var dups []string
	empty := 0
	for _, inst := range scopes {
		if inst.Identifier == "" {
			empty++
			continue
		}
		if seen[inst.Identifier] {
			dups = append(dups, inst.Identifier)
			continue
		}
		seen[inst.Identifier] = true
	}
	if len(dups) > 0 || empty > 0 {
		return &domain.ScopeNameError{NodeID: nodeID, Duplicates: dups, EmptyCount: empty}
	}
	return nil
}
