// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"carboncore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Node aliases domain.Node for in-memory persistence operations.
	Node = domain.Node
	// Measurement aliases domain.Measurement.
	Measurement = domain.Measurement
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	nodes        map[string]Node
	measurements []Measurement
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Nodes        map[string]Node `json:"nodes"`
	Measurements []Measurement   `json:"measurements"`
}

func newMemoryState() memoryState {
	return memoryState{nodes: make(map[string]Node)}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Nodes:        make(map[string]Node, len(state.nodes)),
		Measurements: append([]Measurement(nil), state.measurements...),
	}
	for k, v := range state.nodes {
		s.Nodes[k] = cloneNode(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Nodes {
		state.nodes[k] = cloneNode(v)
	}
	state.measurements = append([]Measurement(nil), s.Measurements...)
	return state
}

// migrateSnapshot repairs snapshots written by earlier builds: nil maps become
// empty, scope instances missing a uid receive one, and zero allocations fall
// back to the default.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Nodes == nil {
		snapshot.Nodes = map[string]Node{}
	}
	for id, node := range snapshot.Nodes {
		for i := range node.Scopes {
			scope := &node.Scopes[i]
			if scope.ScopeUID == "" {
				scope.ScopeUID = newID()
			}
			if scope.AllocationPct == 0 {
				scope.AllocationPct = domain.DefaultAllocationPct
			}
		}
		snapshot.Nodes[id] = node
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.nodes {
		cloned.nodes[k] = cloneNode(v)
	}
	cloned.measurements = append([]Measurement(nil), s.measurements...)
	return cloned
}

func cloneNode(n Node) Node {
	cp := n
	if n.Latitude != nil {
		v := *n.Latitude
		cp.Latitude = &v
	}
	if n.Longitude != nil {
		v := *n.Longitude
		cp.Longitude = &v
	}
	if len(n.Scopes) != 0 {
		cp.Scopes = make([]domain.ScopeInstance, len(n.Scopes))
		for i, scope := range n.Scopes {
			cp.Scopes[i] = cloneScope(scope)
		}
	}
	return cp
}

func cloneScope(s domain.ScopeInstance) domain.ScopeInstance {
	cp := s
	if len(s.FactorSources) != 0 {
		cp.FactorSources = make(map[string]domain.FactorSourceConfig, len(s.FactorSources))
		for k, cfg := range s.FactorSources {
			c := cfg
			if cfg.Factor != nil {
				f := *cfg.Factor
				c.Factor = &f
			}
			cp.FactorSources[k] = c
		}
	}
	if len(s.Overrides) != 0 {
		cp.Overrides = make(map[string]float64, len(s.Overrides))
		for k, v := range s.Overrides {
			cp.Overrides[k] = v
		}
	}
	return cp
}

// sortNodes orders a node listing by creation time, then ID. Listings are the
// scan order downstream consumers see, so it must not vary between calls over
// identical state.
func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListNodes returns all nodes within the transaction snapshot in creation
// order.
func (v transactionView) ListNodes() []Node {
	out := make([]Node, 0, len(v.state.nodes))
	for _, n := range v.state.nodes {
		out = append(out, cloneNode(n))
	}
	sortNodes(out)
	return out
}

// FindNode retrieves a node by ID from the snapshot.
func (v transactionView) FindNode(id string) (Node, bool) {
	n, ok := v.state.nodes[id]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// ListMeasurements returns all measurements in the snapshot.
func (v transactionView) ListMeasurements() []Measurement {
	return append([]Measurement(nil), v.state.measurements...)
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Blocking rule violations abort the commit and the original state survives.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// GetNode retrieves a node by ID outside a transaction.
func (s *Store) GetNode(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.state.nodes[id]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// ListNodes returns all nodes in the store in creation order.
func (s *Store) ListNodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.state.nodes))
	for _, n := range s.state.nodes {
		out = append(out, cloneNode(n))
	}
	sortNodes(out)
	return out
}

// ListMeasurements returns all stored measurements in append order.
func (s *Store) ListMeasurements() []Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Measurement(nil), s.state.measurements...)
}

// ListMeasurementsBetween returns measurements with from <= Timestamp < to.
// Zero bounds are open.
func (s *Store) ListMeasurementsBetween(from, to time.Time) []Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Measurement
	for _, m := range s.state.measurements {
		if !from.IsZero() && m.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !m.Timestamp.Before(to) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateNode stores a new node within the transaction.
func (tx *transaction) CreateNode(n Node) (Node, error) {
	if n.ID == "" {
		n.ID = newID()
	}
	if _, exists := tx.state.nodes[n.ID]; exists {
		return Node{}, fmt.Errorf("node %q already exists", n.ID)
	}
	n.CreatedAt = tx.now
	n.UpdatedAt = tx.now
	for i := range n.Scopes {
		if n.Scopes[i].ScopeUID == "" {
			n.Scopes[i].ScopeUID = newID()
		}
		if n.Scopes[i].AllocationPct == 0 {
			n.Scopes[i].AllocationPct = domain.DefaultAllocationPct
		}
	}
	tx.state.nodes[n.ID] = cloneNode(n)
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionCreate, After: cloneNode(n)})
	return cloneNode(n), nil
}

// UpdateNode mutates a node using the provided mutator function.
func (tx *transaction) UpdateNode(id string, mutator func(*Node) error) (Node, error) {
	current, ok := tx.state.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("node %q not found", id)
	}
	before := cloneNode(current)
	if err := mutator(&current); err != nil {
		return Node{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.nodes[id] = cloneNode(current)
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionUpdate, Before: before, After: cloneNode(current)})
	return cloneNode(current), nil
}

// DeleteNode removes a node from the transaction state.
func (tx *transaction) DeleteNode(id string) error {
	current, ok := tx.state.nodes[id]
	if !ok {
		return fmt.Errorf("node %q not found", id)
	}
	delete(tx.state.nodes, id)
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionDelete, Before: cloneNode(current)})
	return nil
}

// FindNode exposes node lookup within the transaction scope.
func (tx *transaction) FindNode(id string) (Node, bool) {
	n, ok := tx.state.nodes[id]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// ListNodes returns all nodes within the transaction scope in creation order.
func (tx *transaction) ListNodes() []Node {
	out := make([]Node, 0, len(tx.state.nodes))
	for _, n := range tx.state.nodes {
		out = append(out, cloneNode(n))
	}
	sortNodes(out)
	return out
}

// AppendMeasurement stores an immutable measurement record.
func (tx *transaction) AppendMeasurement(m Measurement) (Measurement, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.ScopeIdentifier == "" {
		return Measurement{}, fmt.Errorf("measurement requires scope identifier")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = tx.now
	}
	tx.state.measurements = append(tx.state.measurements, m)
	tx.recordChange(Change{Entity: domain.EntityMeasurement, Action: domain.ActionCreate, After: m})
	return m, nil
}
