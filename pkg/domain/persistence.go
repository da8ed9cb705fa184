package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
//
// Stage records (retrieval through PGT) are keyed by cycle id: Put* inserts the
// record or replaces the existing one in place, so at most one exists per cycle.
type Transaction interface {
	Snapshot() TransactionView
	CreateCycle(Cycle) (Cycle, error)
	UpdateCycle(id string, mutator func(*Cycle) error) (Cycle, error)
	// DeleteCycle removes the cycle together with every record it owns.
	DeleteCycle(id string) error
	CreateInjection(Injection) (Injection, error)
	UpdateInjection(id string, mutator func(*Injection) error) (Injection, error)
	DeleteInjection(id string) error
	PutRetrieval(Retrieval) (Retrieval, error)
	PutFertilization(Fertilization) (Fertilization, error)
	PutCulture(Culture) (Culture, error)
	PutTransfer(Transfer) (Transfer, error)
	PutFreeze(Freeze) (Freeze, error)
	PutPGT(PGT) (PGT, error)
	// DeleteStage removes the stage record of the given type for a cycle and
	// reports whether one existed.
	DeleteStage(entity EntityType, cycleID string) (bool, error)
}

// TransactionView provides read-only access to snapshot data for rules and readers.
type TransactionView interface {
	FindCycle(id string) (Cycle, bool)
	ListCycles() []Cycle
	FindInjection(id string) (Injection, bool)
	ListInjections(cycleID string) []Injection
	FindRetrieval(cycleID string) (Retrieval, bool)
	FindFertilization(cycleID string) (Fertilization, bool)
	FindCulture(cycleID string) (Culture, bool)
	FindTransfer(cycleID string) (Transfer, bool)
	FindFreeze(cycleID string) (Freeze, bool)
	FindPGT(cycleID string) (PGT, bool)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
