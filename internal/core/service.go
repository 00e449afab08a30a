package core

import (
	"context"
	"fmt"
	"time"

	"carboncore/internal/infra/persistence/memory"
	"carboncore/pkg/domain"
)

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a started span, recording the outcome error if any.
type TraceSpan interface {
	End(err error)
}

// ServiceOption configures optional service collaborators.
type ServiceOption func(*Service)

// WithMetricsRecorder attaches a metrics recorder to the service.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = rec }
}

// WithTracer attaches a tracer to the service.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) { s.tracer = tracer }
}

// Service exposes higher-level transactional operations over the node graph
// and measurement log. Every write runs inside the store's rule-gated
// transaction boundary.
type Service struct {
	store   domain.PersistentStore
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// instrument starts a span and returns a closure that records the operation
// outcome in both the tracer and the metrics recorder.
func (s *Service) instrument(ctx context.Context, operation string) (context.Context, func(error)) {
	started := time.Now()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	return ctx, func(err error) {
		if span != nil {
			span.End(err)
		}
		if s.metrics != nil {
			s.metrics.Observe(ctx, operation, err == nil, time.Since(started))
		}
	}
}

// CreateNode persists a new node.
func (s *Service) CreateNode(ctx context.Context, node Node) (Node, Result, error) {
	ctx, done := s.instrument(ctx, "create_node")
	var created Node
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateNode(node)
		return err
	})
	done(err)
	return created, res, err
}

// UpdateNodeMetadata mutates a node's descriptive fields using the provided mutator.
func (s *Service) UpdateNodeMetadata(ctx context.Context, id string, mutator func(*Node) error) (Node, Result, error) {
	ctx, done := s.instrument(ctx, "update_node")
	var updated Node
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateNode(id, mutator)
		return err
	})
	done(err)
	return updated, res, err
}

// DeleteNode soft-deletes a node. Its scope instances drop out of the live
// index, so shared identifiers it participated in must be rebalanced by the
// caller or they will fail validation on the next write.
func (s *Service) DeleteNode(ctx context.Context, id string) (Node, Result, error) {
	ctx, done := s.instrument(ctx, "delete_node")
	var updated Node
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateNode(id, func(n *Node) error {
			n.Deleted = true
			return nil
		})
		return err
	})
	done(err)
	return updated, res, err
}

// ApplyScopeEdits reconciles an incoming edit list against a node's existing
// scope instances and persists the merged result. Name integrity failures
// surface before the transaction's rule pass runs.
func (s *Service) ApplyScopeEdits(ctx context.Context, nodeID string, edits []ScopeEdit) (Node, Result, error) {
	ctx, done := s.instrument(ctx, "apply_scope_edits")
	var updated Node
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateNode(nodeID, func(n *Node) error {
			merged, mergeErr := ReconcileScopes(nodeID, n.Scopes, edits)
			if mergeErr != nil {
				return mergeErr
			}
			n.Scopes = merged
			return nil
		})
		return err
	})
	done(err)
	return updated, res, err
}

// ApplyScopeEditsBatch reconciles edits for several nodes inside one gated
// transaction. The allocation rules evaluate the whole graph at commit time,
// so a scope can only become shared when the joining holder and the existing
// holders rebalance together; per-node writes would be blocked mid-way.
func (s *Service) ApplyScopeEditsBatch(ctx context.Context, edits map[string][]ScopeEdit) (map[string]Node, Result, error) {
	ctx, done := s.instrument(ctx, "apply_scope_edits_batch")
	updated := make(map[string]Node, len(edits))
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for nodeID, nodeEdits := range edits {
			scopeEdits := nodeEdits
			node, err := tx.UpdateNode(nodeID, func(n *Node) error {
				merged, mergeErr := ReconcileScopes(nodeID, n.Scopes, scopeEdits)
				if mergeErr != nil {
					return mergeErr
				}
				n.Scopes = merged
				return nil
			})
			if err != nil {
				return err
			}
			updated[nodeID] = node
		}
		return nil
	})
	done(err)
	if err != nil {
		return nil, res, err
	}
	return updated, res, nil
}

// SetAllocation updates the allocation percentage of one node's live scope
// instance matching the identifier.
func (s *Service) SetAllocation(ctx context.Context, nodeID, identifier string, pct float64) (Node, Result, error) {
	ctx, done := s.instrument(ctx, "set_allocation")
	var updated Node
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateNode(nodeID, func(n *Node) error {
			for i := range n.Scopes {
				if n.Scopes[i].Identifier == identifier && !n.Scopes[i].Deleted {
					n.Scopes[i].AllocationPct = pct
					return nil
				}
			}
			return fmt.Errorf("node %q has no live scope %q", nodeID, identifier)
		})
		return err
	})
	done(err)
	return updated, res, err
}

// AutoDistribute splits the identifier's allocation evenly across every node
// sharing it and persists the result in a single gated transaction. Returns
// the computed assignments.
func (s *Service) AutoDistribute(ctx context.Context, identifier string) ([]DistributionAssignment, Result, error) {
	ctx, done := s.instrument(ctx, "auto_distribute")
	var assignments []DistributionAssignment
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		idx := BuildAllocationIndex(tx.ListNodes(), IndexOptions{})
		entries := idx.Entries(identifier)
		var ok bool
		assignments, ok = DistributeEqually(entries)
		if !ok {
			return fmt.Errorf("scope %q is not shared; nothing to distribute", identifier)
		}
		for _, a := range assignments {
			pct := a.AllocationPct
			if _, err := tx.UpdateNode(a.NodeID, func(n *Node) error {
				for i := range n.Scopes {
					if n.Scopes[i].Identifier == identifier && !n.Scopes[i].Deleted {
						n.Scopes[i].AllocationPct = pct
					}
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	done(err)
	if err != nil {
		return nil, res, err
	}
	return assignments, res, nil
}

// RecordMeasurement appends an immutable emission measurement.
func (s *Service) RecordMeasurement(ctx context.Context, m Measurement) (Measurement, Result, error) {
	ctx, done := s.instrument(ctx, "record_measurement")
	var stored Measurement
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		stored, err = tx.AppendMeasurement(m)
		return err
	})
	done(err)
	return stored, res, err
}

// Validate reports allocation integrity for the current graph without
// mutating anything.
func (s *Service) Validate(ctx context.Context) (ValidationReport, error) {
	ctx, done := s.instrument(ctx, "validate")
	var report ValidationReport
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		report = ValidateNodeAllocations(view.ListNodes())
		return nil
	})
	done(err)
	return report, err
}

// Aggregate folds the stored measurements into an allocation-weighted summary.
// A pass that cannot complete yields the zeroed failure summary rather than a
// partial result; aggregation never returns an error to its caller.
func (s *Service) Aggregate(ctx context.Context, filter AggregateFilter) (summary AggregateSummary) {
	ctx, done := s.instrument(ctx, "aggregate")
	var opErr error
	defer func() {
		if r := recover(); r != nil {
			opErr = fmt.Errorf("aggregation panic: %v", r)
			summary = FailedSummary(opErr.Error())
		}
		done(opErr)
	}()

	var nodes []Node
	var measurements []Measurement
	if err := s.store.View(ctx, func(view domain.TransactionView) error {
		nodes = view.ListNodes()
		measurements = view.ListMeasurements()
		return nil
	}); err != nil {
		opErr = err
		return FailedSummary(err.Error())
	}
	return Aggregate(nodes, measurements, filter)
}
