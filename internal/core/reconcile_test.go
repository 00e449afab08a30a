package core

import (
	"errors"
	"reflect"
	"testing"

	"carboncore/pkg/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestReconcileScopesRenamePreservesContinuity(t *testing.T) {
	existing := []ScopeInstance{{
		ScopeUID:      "s1",
		Identifier:    "Diesel",
		Tier:          TierDirect,
		CategoryName:  "Stationary Combustion",
		ActivityName:  "Generator",
		AllocationPct: 40,
	}}
	edits := []ScopeEdit{{
		ScopeUID:   "s1",
		Identifier: "Diesel_Generator",
	}}

	merged, err := ReconcileScopes("node-1", existing, edits)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(merged))
	}
	got := merged[0]
	if got.ScopeUID != "s1" {
		t.Fatalf("rename must not mint a new uid, got %q", got.ScopeUID)
	}
	if got.Identifier != "Diesel_Generator" {
		t.Fatalf("identifier not updated: %q", got.Identifier)
	}
	if got.AllocationPct != 40 {
		t.Fatalf("allocation lost on rename: %v", got.AllocationPct)
	}
	if got.CategoryName != "Stationary Combustion" {
		t.Fatalf("category lost on rename: %q", got.CategoryName)
	}
}

func TestReconcileScopesRenamedFromFallback(t *testing.T) {
	existing := []ScopeInstance{{
		ScopeUID:      "s1",
		Identifier:    "Fleet",
		Tier:          TierDirect,
		AllocationPct: 55,
	}}
	edits := []ScopeEdit{{
		Identifier:  "Fleet_EU",
		RenamedFrom: "Fleet",
	}}

	merged, err := ReconcileScopes("node-1", existing, edits)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if merged[0].ScopeUID != "s1" || merged[0].Identifier != "Fleet_EU" || merged[0].AllocationPct != 55 {
		t.Fatalf("renamed_from match failed: %+v", merged[0])
	}
}

func TestReconcileScopesClassificationFallback(t *testing.T) {
	existing := []ScopeInstance{{
		ScopeUID:      "s9",
		Identifier:    "OldName",
		Tier:          TierEnergyIndirect,
		CategoryName:  "Purchased Electricity",
		ActivityName:  "Grid",
		AllocationPct: 100,
	}}
	edits := []ScopeEdit{{
		Identifier:   "Electricity_HQ",
		Tier:         TierEnergyIndirect,
		CategoryName: "Purchased Electricity",
		ActivityName: "Grid",
	}}

	merged, err := ReconcileScopes("node-1", existing, edits)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(merged) != 1 || merged[0].ScopeUID != "s9" {
		t.Fatalf("classification match should reuse s9: %+v", merged)
	}
}

func TestReconcileScopesAppendsNewWithFreshUID(t *testing.T) {
	merged, err := ReconcileScopes("node-1", nil, []ScopeEdit{{
		Identifier: "Waste",
		Tier:       TierOtherIndirect,
	}})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(merged))
	}
	if merged[0].ScopeUID == "" {
		t.Fatal("new instance missing uid")
	}
	if merged[0].AllocationPct != domain.DefaultAllocationPct {
		t.Fatalf("new instance should default to 100, got %v", merged[0].AllocationPct)
	}
}

func TestReconcileScopesIdempotent(t *testing.T) {
	existing := []ScopeInstance{
		{ScopeUID: "a", Identifier: "Diesel", Tier: TierDirect, AllocationPct: 30},
		{ScopeUID: "b", Identifier: "Electricity", Tier: TierEnergyIndirect, AllocationPct: 70},
	}
	edits := []ScopeEdit{
		{ScopeUID: "a", Identifier: "Diesel", AllocationPct: floatPtr(35)},
		{Identifier: "Electricity", AllocationPct: floatPtr(65)},
	}

	once, err := ReconcileScopes("node-1", existing, edits)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := ReconcileScopes("node-1", once, edits)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("reconcile not idempotent:\nfirst:  %+v\nsecond: %+v", once, twice)
	}
}

func TestReconcileScopesDuplicateNamesRejected(t *testing.T) {
	existing := []ScopeInstance{{ScopeUID: "a", Identifier: "Diesel", Tier: TierDirect}}
	edits := []ScopeEdit{{Identifier: "Diesel", Tier: TierOtherIndirect, CategoryName: "x", ActivityName: "y"}}

	// The identifier strategy consumes the existing instance, so a second
	// edit naming Diesel again must fail the post-merge check.
	edits = append(edits, ScopeEdit{Identifier: "Diesel", Tier: TierEnergyIndirect, CategoryName: "p", ActivityName: "q"})
	_, err := ReconcileScopes("node-1", existing, edits)
	var nameErr *domain.ScopeNameError
	if !errors.As(err, &nameErr) {
		t.Fatalf("expected ScopeNameError, got %v", err)
	}
	if nameErr.NodeID != "node-1" || len(nameErr.Duplicates) == 0 {
		t.Fatalf("unexpected error payload: %+v", nameErr)
	}
}

func TestReconcileScopesEmptyIdentifierRejected(t *testing.T) {
	_, err := ReconcileScopes("node-1", []ScopeInstance{{ScopeUID: "a", Identifier: ""}}, nil)
	var nameErr *domain.ScopeNameError
	if !errors.As(err, &nameErr) {
		t.Fatalf("expected ScopeNameError, got %v", err)
	}
	if nameErr.EmptyCount != 1 {
		t.Fatalf("expected one empty identifier, got %d", nameErr.EmptyCount)
	}
}

func TestMergeFactorSourcesAdditive(t *testing.T) {
	existing := map[string]FactorSourceConfig{
		"defra": {Factor: floatPtr(2.68), Unit: "kgCO2e/l", DocumentationURL: "https://example.org/defra"},
	}
	incoming := map[string]FactorSourceConfig{
		"defra": {Factor: floatPtr(2.70)},
		"epa":   {Unit: "kgCO2e/kWh"},
	}

	merged := mergeFactorSources(existing, incoming)
	defra := merged["defra"]
	if defra.Factor == nil || *defra.Factor != 2.70 {
		t.Fatalf("incoming factor should win: %+v", defra)
	}
	if defra.Unit != "kgCO2e/l" || defra.DocumentationURL != "https://example.org/defra" {
		t.Fatalf("absent incoming fields must not clear existing values: %+v", defra)
	}
	if merged["epa"].Unit != "kgCO2e/kWh" {
		t.Fatalf("new source not merged: %+v", merged["epa"])
	}
}

func TestResolveOverridesAliases(t *testing.T) {
	raw := map[string]*float64{
		"customEmissionFactor": floatPtr(3.1),
		"annualHours":          floatPtr(1800),
	}
	existing := map[string]float64{OverrideCustomUncertainty: 0.2}

	out := resolveOverrides(raw, existing)
	if out[OverrideCustomFactor] != 3.1 {
		t.Fatalf("alias customEmissionFactor not resolved: %+v", out)
	}
	if out[OverrideAnnualHours] != 1800 {
		t.Fatalf("alias annualHours not resolved: %+v", out)
	}
	if out[OverrideCustomUncertainty] != 0.2 {
		t.Fatalf("existing canonical value lost: %+v", out)
	}
}

func TestResolveOverridesIncomingWinsOverExisting(t *testing.T) {
	raw := map[string]*float64{"manual_factor": floatPtr(9)}
	existing := map[string]float64{OverrideCustomFactor: 1}
	out := resolveOverrides(raw, existing)
	if out[OverrideCustomFactor] != 9 {
		t.Fatalf("incoming alias must win: %+v", out)
	}
}
