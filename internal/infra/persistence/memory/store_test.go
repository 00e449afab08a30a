package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"carboncore/pkg/domain"
)

func TestRunInTransactionCreateAndGet(t *testing.T) {
	store := NewStore(nil)
	var created Node
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		created, err = tx.CreateNode(Node{Label: "Plant A", Scopes: []domain.ScopeInstance{{Identifier: "Diesel", Tier: domain.TierDirect}}})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("create defaults missing: %+v", created)
	}
	if created.Scopes[0].ScopeUID == "" || created.Scopes[0].AllocationPct != domain.DefaultAllocationPct {
		t.Fatalf("scope defaults missing: %+v", created.Scopes[0])
	}

	stored, ok := store.GetNode(created.ID)
	if !ok || stored.Label != "Plant A" {
		t.Fatalf("node not committed: %v %+v", ok, stored)
	}
}

func TestCreateNodeDuplicateID(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		n := Node{Label: "A"}
		n.ID = "fixed"
		if _, err := tx.CreateNode(n); err != nil {
			return err
		}
		_, err := tx.CreateNode(n)
		return err
	})
	if err == nil {
		t.Fatal("duplicate id must be rejected")
	}
}

func TestTransactionErrorRollsBack(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateNode(Node{Label: "A"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected abort error")
	}
	if got := len(store.ListNodes()); got != 0 {
		t.Fatalf("aborted transaction leaked %d nodes", got)
	}
}

type blockEverything struct{}

func (blockEverything) Name() string { return "block_everything" }

func (blockEverything) Evaluate(context.Context, domain.RuleView, []Change) (Result, error) {
	return Result{Violations: []domain.Violation{{Rule: "block_everything", Severity: domain.SeverityBlock}}}, nil
}

func TestBlockingViolationAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockEverything{})
	store := NewStore(engine)

	res, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateNode(Node{Label: "A"})
		return err
	})
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("result must carry the violation: %+v", res)
	}
	if got := len(store.ListNodes()); got != 0 {
		t.Fatalf("blocked commit leaked %d nodes", got)
	}
}

func TestUpdateNodeMutatorErrorAborts(t *testing.T) {
	store := NewStore(nil)
	var id string
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		n, err := tx.CreateNode(Node{Label: "A"})
		id = n.ID
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateNode(id, func(n *Node) error {
			n.Label = "changed"
			return fmt.Errorf("mutator refused")
		})
		return err
	})
	if err == nil {
		t.Fatal("expected mutator error")
	}
	stored, _ := store.GetNode(id)
	if stored.Label != "A" {
		t.Fatalf("failed mutator must not apply: %q", stored.Label)
	}
}

func TestDeleteNodeRemovesRecord(t *testing.T) {
	store := NewStore(nil)
	var id string
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		n, err := tx.CreateNode(Node{Label: "A"})
		id = n.ID
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeleteNode(id)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.GetNode(id); ok {
		t.Fatal("hard delete must remove the record")
	}
}

func TestAppendMeasurementDefaults(t *testing.T) {
	store := NewStore(nil)
	var stored Measurement
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		stored, err = tx.AppendMeasurement(Measurement{ScopeIdentifier: "Diesel"})
		return err
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.ID == "" || stored.Timestamp.IsZero() {
		t.Fatalf("defaults missing: %+v", stored)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.AppendMeasurement(Measurement{})
		return err
	}); err == nil {
		t.Fatal("measurement without identifier must be rejected")
	}
}

func TestListMeasurementsBetween(t *testing.T) {
	store := NewStore(nil)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		for i := 0; i < 4; i++ {
			if _, err := tx.AppendMeasurement(Measurement{
				ScopeIdentifier: "Diesel",
				Timestamp:       base.Add(time.Duration(i) * time.Hour),
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got := store.ListMeasurementsBetween(base.Add(time.Hour), base.Add(3*time.Hour))
	if len(got) != 2 {
		t.Fatalf("window [1h,3h) should hold 2 measurements, got %d", len(got))
	}
	if all := store.ListMeasurementsBetween(time.Time{}, time.Time{}); len(all) != 4 {
		t.Fatalf("open window should hold all 4, got %d", len(all))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateNode(Node{Label: "A", Scopes: []domain.ScopeInstance{{Identifier: "Diesel", AllocationPct: 40}}}); err != nil {
			return err
		}
		_, err := tx.AppendMeasurement(Measurement{ScopeIdentifier: "Diesel"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot := store.ExportState()
	restored := NewStore(nil)
	restored.ImportState(snapshot)

	if len(restored.ListNodes()) != 1 || len(restored.ListMeasurements()) != 1 {
		t.Fatalf("round trip lost records: %d nodes, %d measurements",
			len(restored.ListNodes()), len(restored.ListMeasurements()))
	}
}

func TestImportStateMigratesLegacySnapshots(t *testing.T) {
	legacy := Node{Label: "Old", Scopes: []domain.ScopeInstance{{Identifier: "Diesel"}}}
	legacy.ID = "n1"
	store := NewStore(nil)
	store.ImportState(Snapshot{Nodes: map[string]Node{"n1": legacy}})

	restored, ok := store.GetNode("n1")
	if !ok {
		t.Fatal("migrated node missing")
	}
	if restored.Scopes[0].ScopeUID == "" {
		t.Fatal("migration must mint missing scope uids")
	}
	if restored.Scopes[0].AllocationPct != domain.DefaultAllocationPct {
		t.Fatalf("migration must default zero allocations, got %v", restored.Scopes[0].AllocationPct)
	}
}

func TestViewAndTransactionIsolation(t *testing.T) {
	store := NewStore(nil)
	var id string
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		n, err := tx.CreateNode(Node{Label: "A", Scopes: []domain.ScopeInstance{{Identifier: "Diesel"}}})
		id = n.ID
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Mutating the slice a view hands out must not reach the store.
	if err := store.View(context.Background(), func(view TransactionView) error {
		nodes := view.ListNodes()
		nodes[0].Scopes[0].AllocationPct = 1
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	stored, _ := store.GetNode(id)
	if stored.Scopes[0].AllocationPct == 1 {
		t.Fatal("view leaked mutable state")
	}
}

func TestListNodesOrderIsStable(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		for _, id := range []string{"c", "a", "b"} {
			n := Node{Label: id}
			n.ID = id
			if _, err := tx.CreateNode(n); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		n := Node{Label: "late"}
		n.ID = "0"
		_, err := tx.CreateNode(n)
		return err
	}); err != nil {
		t.Fatalf("seed late node: %v", err)
	}

	// Same CreatedAt within a transaction falls back to ID order; a later
	// transaction sorts after regardless of its lexicographic position.
	want := []string{"a", "b", "c", "0"}
	for pass := 0; pass < 10; pass++ {
		nodes := store.ListNodes()
		if len(nodes) != len(want) {
			t.Fatalf("pass %d: got %d nodes", pass, len(nodes))
		}
		for i, n := range nodes {
			if n.ID != want[i] {
				t.Fatalf("pass %d: order = %v, want %v at index %d", pass, n.ID, want[i], i)
			}
		}
	}

	if err := store.View(context.Background(), func(view TransactionView) error {
		nodes := view.ListNodes()
		for i, n := range nodes {
			if n.ID != want[i] {
				t.Fatalf("view order = %v, want %v at index %d", n.ID, want[i], i)
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
