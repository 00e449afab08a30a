package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateNode(Node) (Node, error)
	UpdateNode(id string, mutator func(*Node) error) (Node, error)
	DeleteNode(id string) error
	FindNode(id string) (Node, bool)
	ListNodes() []Node
	AppendMeasurement(Measurement) (Measurement, error)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListNodes() []Node
	FindNode(id string) (Node, bool)
	ListMeasurements() []Measurement
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetNode(id string) (Node, bool)
	ListNodes() []Node
	ListMeasurements() []Measurement
	ListMeasurementsBetween(from, to time.Time) []Measurement
}
