// Package memory provides an in-memory implementation of the cycle record
// store used for tests, ephemeral environments and as the transactional core of
// the durable backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cyclekeeper/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Cycle aliases domain.Cycle for in-memory persistence operations.
	Cycle = domain.Cycle
	// Injection aliases domain.Injection.
	Injection     = domain.Injection
	Retrieval     = domain.Retrieval
	Fertilization = domain.Fertilization
	Culture       = domain.Culture
	Transfer      = domain.Transfer
	Freeze        = domain.Freeze
	PGT           = domain.PGT
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

// CommitHook runs after rules pass and before the transaction's state becomes
// visible. Returning an error aborts the transaction.
type CommitHook func(ctx context.Context, changes []Change, next Snapshot) error

// memoryState keeps one map per record type. Stage records are keyed by cycle
// id so a cycle can never hold more than one of each.
type memoryState struct {
	cycles         map[string]Cycle
	injections     map[string]Injection
	retrievals     map[string]Retrieval
	fertilizations map[string]Fertilization
	cultures       map[string]Culture
	transfers      map[string]Transfer
	freezes        map[string]Freeze
	pgts           map[string]PGT
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Cycles         map[string]Cycle         `json:"cycles"`
	Injections     map[string]Injection     `json:"injections"`
	Retrievals     map[string]Retrieval     `json:"retrievals"`
	Fertilizations map[string]Fertilization `json:"fertilizations"`
	Cultures       map[string]Culture       `json:"cultures"`
	Transfers      map[string]Transfer      `json:"transfers"`
	Freezes        map[string]Freeze        `json:"freezes"`
	PGTs           map[string]PGT           `json:"pgts"`
}

func newMemoryState() memoryState {
	return memoryState{
		cycles:         make(map[string]Cycle),
		injections:     make(map[string]Injection),
		retrievals:     make(map[string]Retrieval),
		fertilizations: make(map[string]Fertilization),
		cultures:       make(map[string]Culture),
		transfers:      make(map[string]Transfer),
		freezes:        make(map[string]Freeze),
		pgts:           make(map[string]PGT),
	}
}

// dropOwnedBy removes every record whose cycle id references cycleID.
func (s memoryState) dropOwnedBy(cycleID string) {
	dropOwned(s.injections, cycleID, func(v Injection) string { return v.CycleID })
	dropOwned(s.retrievals, cycleID, func(v Retrieval) string { return v.CycleID })
	dropOwned(s.fertilizations, cycleID, func(v Fertilization) string { return v.CycleID })
	dropOwned(s.cultures, cycleID, func(v Culture) string { return v.CycleID })
	dropOwned(s.transfers, cycleID, func(v Transfer) string { return v.CycleID })
	dropOwned(s.freezes, cycleID, func(v Freeze) string { return v.CycleID })
	dropOwned(s.pgts, cycleID, func(v PGT) string { return v.CycleID })
}

func dropOwned[T any](bucket map[string]T, cycleID string, owner func(T) string) {
	for k, v := range bucket {
		if owner(v) == cycleID {
			delete(bucket, k)
		}
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Cycles:         c.cycles,
		Injections:     c.injections,
		Retrievals:     c.retrievals,
		Fertilizations: c.fertilizations,
		Cultures:       c.cultures,
		Transfers:      c.transfers,
		Freezes:        c.freezes,
		PGTs:           c.pgts,
	}
}

// memoryStateFromSnapshot rebuilds state from a snapshot. Stage maps are
// re-keyed by cycle id so snapshots written by other tools stay consistent.
func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Cycles {
		if v.ID == "" {
			v.ID = k
		}
		state.cycles[v.ID] = v
	}
	for k, v := range s.Injections {
		if v.ID == "" {
			v.ID = k
		}
		state.injections[v.ID] = v
	}
	for k, v := range s.Retrievals {
		state.retrievals[stageKey(k, v.CycleID)] = v
	}
	for k, v := range s.Fertilizations {
		state.fertilizations[stageKey(k, v.CycleID)] = v
	}
	for k, v := range s.Cultures {
		state.cultures[stageKey(k, v.CycleID)] = cloneCulture(v)
	}
	for k, v := range s.Transfers {
		state.transfers[stageKey(k, v.CycleID)] = v
	}
	for k, v := range s.Freezes {
		state.freezes[stageKey(k, v.CycleID)] = v
	}
	for k, v := range s.PGTs {
		state.pgts[stageKey(k, v.CycleID)] = clonePGT(v)
	}
	return state
}

func stageKey(key, cycleID string) string {
	if cycleID != "" {
		return cycleID
	}
	return key
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		cycles:         make(map[string]Cycle, len(s.cycles)),
		injections:     make(map[string]Injection, len(s.injections)),
		retrievals:     make(map[string]Retrieval, len(s.retrievals)),
		fertilizations: make(map[string]Fertilization, len(s.fertilizations)),
		cultures:       make(map[string]Culture, len(s.cultures)),
		transfers:      make(map[string]Transfer, len(s.transfers)),
		freezes:        make(map[string]Freeze, len(s.freezes)),
		pgts:           make(map[string]PGT, len(s.pgts)),
	}
	for k, v := range s.cycles {
		out.cycles[k] = v
	}
	for k, v := range s.injections {
		out.injections[k] = v
	}
	for k, v := range s.retrievals {
		out.retrievals[k] = v
	}
	for k, v := range s.fertilizations {
		out.fertilizations[k] = v
	}
	for k, v := range s.cultures {
		out.cultures[k] = cloneCulture(v)
	}
	for k, v := range s.transfers {
		out.transfers[k] = v
	}
	for k, v := range s.freezes {
		out.freezes[k] = v
	}
	for k, v := range s.pgts {
		out.pgts[k] = clonePGT(v)
	}
	return out
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneCulture(c Culture) Culture {
	if c.NextPlans != nil {
		c.NextPlans = append(domain.PlanSet(nil), c.NextPlans...)
	}
	c.GradeA = cloneIntPtr(c.GradeA)
	c.GradeB = cloneIntPtr(c.GradeB)
	c.GradeC = cloneIntPtr(c.GradeC)
	return c
}

func clonePGT(p PGT) PGT {
	p.Mosaic = cloneIntPtr(p.Mosaic)
	return p
}

func identity[T any](v T) T { return v }

// Store provides an in-memory transactional store for cycle records.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
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

// SetCommitHook installs the hook invoked before each commit is published.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// SetNowFunc overrides the clock used to stamp record timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
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
	s.state = memoryStateFromSnapshot(snapshot)
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

// RunInTransaction executes fn within a transactional copy of the store state.
// Rules evaluate the post-change view; blocking violations and commit hook
// failures discard the copy.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
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

	if s.hook != nil && len(tx.changes) > 0 {
		if err := s.hook(ctx, tx.changes, snapshotFromMemoryState(tx.state)); err != nil {
			return result, fmt.Errorf("commit: %w", err)
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

type transaction struct {
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

func (v transactionView) FindCycle(id string) (Cycle, bool) {
	c, ok := v.state.cycles[id]
	return c, ok
}

// ListCycles returns cycles ordered by number, then start date, then id.
func (v transactionView) ListCycles() []Cycle {
	out := make([]Cycle, 0, len(v.state.cycles))
	for _, c := range v.state.cycles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		if out[i].StartDate != out[j].StartDate {
			return out[i].StartDate < out[j].StartDate
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindInjection(id string) (Injection, bool) {
	inj, ok := v.state.injections[id]
	return inj, ok
}

// ListInjections returns a cycle's injections ordered by date, time and creation.
func (v transactionView) ListInjections(cycleID string) []Injection {
	var out []Injection
	for _, inj := range v.state.injections {
		if inj.CycleID == cycleID {
			out = append(out, inj)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func (v transactionView) FindRetrieval(cycleID string) (Retrieval, bool) {
	r, ok := v.state.retrievals[cycleID]
	return r, ok
}

func (v transactionView) FindFertilization(cycleID string) (Fertilization, bool) {
	f, ok := v.state.fertilizations[cycleID]
	return f, ok
}

func (v transactionView) FindCulture(cycleID string) (Culture, bool) {
	c, ok := v.state.cultures[cycleID]
	if !ok {
		return Culture{}, false
	}
	return cloneCulture(c), true
}

func (v transactionView) FindTransfer(cycleID string) (Transfer, bool) {
	t, ok := v.state.transfers[cycleID]
	return t, ok
}

func (v transactionView) FindFreeze(cycleID string) (Freeze, bool) {
	f, ok := v.state.freezes[cycleID]
	return f, ok
}

func (v transactionView) FindPGT(cycleID string) (PGT, bool) {
	p, ok := v.state.pgts[cycleID]
	if !ok {
		return PGT{}, false
	}
	return clonePGT(p), true
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) requireCycle(id string) error {
	if _, ok := tx.state.cycles[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityCycle, ID: id}
	}
	return nil
}

// CreateCycle stores a new cycle within the transaction.
func (tx *transaction) CreateCycle(c Cycle) (Cycle, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := tx.state.cycles[c.ID]; exists {
		return Cycle{}, fmt.Errorf("cycle %q already exists", c.ID)
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.cycles[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityCycle, Action: domain.ActionCreate, After: c})
	return c, nil
}

// UpdateCycle mutates a cycle using the provided mutator function. Identity,
// ownership and creation time cannot be changed by the mutator.
func (tx *transaction) UpdateCycle(id string, mutator func(*Cycle) error) (Cycle, error) {
	current, ok := tx.state.cycles[id]
	if !ok {
		return Cycle{}, domain.NotFoundError{Entity: domain.EntityCycle, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Cycle{}, err
	}
	current.ID = id
	current.OwnerID = before.OwnerID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.cycles[id] = current
	tx.recordChange(Change{Entity: domain.EntityCycle, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteCycle removes a cycle. Records referencing it by cycle id go with it,
// matching the ON DELETE CASCADE keys of the relational backends, so the change
// list carries the cycle delete only.
func (tx *transaction) DeleteCycle(id string) error {
	current, ok := tx.state.cycles[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityCycle, ID: id}
	}
	delete(tx.state.cycles, id)
	tx.state.dropOwnedBy(id)
	tx.recordChange(Change{Entity: domain.EntityCycle, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateInjection appends an injection to an existing cycle.
func (tx *transaction) CreateInjection(inj Injection) (Injection, error) {
	if err := tx.requireCycle(inj.CycleID); err != nil {
		return Injection{}, err
	}
	if inj.ID == "" {
		inj.ID = uuid.NewString()
	}
	if _, exists := tx.state.injections[inj.ID]; exists {
		return Injection{}, fmt.Errorf("injection %q already exists", inj.ID)
	}
	inj.CreatedAt = tx.now
	inj.UpdatedAt = tx.now
	tx.state.injections[inj.ID] = inj
	tx.recordChange(Change{Entity: domain.EntityInjection, Action: domain.ActionCreate, After: inj})
	return inj, nil
}

// UpdateInjection mutates an existing injection. It stays attached to its cycle.
func (tx *transaction) UpdateInjection(id string, mutator func(*Injection) error) (Injection, error) {
	current, ok := tx.state.injections[id]
	if !ok {
		return Injection{}, domain.NotFoundError{Entity: domain.EntityInjection, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Injection{}, err
	}
	current.ID = id
	current.CycleID = before.CycleID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.injections[id] = current
	tx.recordChange(Change{Entity: domain.EntityInjection, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteInjection removes an injection from the transaction state.
func (tx *transaction) DeleteInjection(id string) error {
	current, ok := tx.state.injections[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityInjection, ID: id}
	}
	delete(tx.state.injections, id)
	tx.recordChange(Change{Entity: domain.EntityInjection, Action: domain.ActionDelete, Before: current})
	return nil
}

// putStage inserts rec for its cycle or replaces the existing record in place,
// keeping the original id and creation time.
func putStage[T any](tx *transaction, entity domain.EntityType, bucket map[string]T, rec T, base func(*T) (*domain.Base, string), clone func(T) T) (T, error) {
	var zero T
	b, cycleID := base(&rec)
	if err := tx.requireCycle(cycleID); err != nil {
		return zero, err
	}
	action := domain.ActionCreate
	var before any
	if existing, ok := bucket[cycleID]; ok {
		prev, _ := base(&existing)
		b.ID = prev.ID
		b.CreatedAt = prev.CreatedAt
		action = domain.ActionUpdate
		before = clone(existing)
	} else {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.CreatedAt = tx.now
	}
	b.UpdatedAt = tx.now
	bucket[cycleID] = clone(rec)
	tx.recordChange(Change{Entity: entity, Action: action, Before: before, After: clone(rec)})
	return clone(rec), nil
}

func deleteStage[T any](tx *transaction, entity domain.EntityType, bucket map[string]T, cycleID string) bool {
	existing, ok := bucket[cycleID]
	if !ok {
		return false
	}
	delete(bucket, cycleID)
	tx.recordChange(Change{Entity: entity, Action: domain.ActionDelete, Before: existing})
	return true
}

// PutRetrieval upserts the cycle's retrieval record.
func (tx *transaction) PutRetrieval(r Retrieval) (Retrieval, error) {
	return putStage(tx, domain.EntityRetrieval, tx.state.retrievals, r,
		func(v *Retrieval) (*domain.Base, string) { return &v.Base, v.CycleID }, identity[Retrieval])
}

// PutFertilization upserts the cycle's fertilization record.
func (tx *transaction) PutFertilization(f Fertilization) (Fertilization, error) {
	return putStage(tx, domain.EntityFertilization, tx.state.fertilizations, f,
		func(v *Fertilization) (*domain.Base, string) { return &v.Base, v.CycleID }, identity[Fertilization])
}

// PutCulture upserts the cycle's culture record with its plans normalized.
func (tx *transaction) PutCulture(c Culture) (Culture, error) {
	c.NextPlans = c.NextPlans.Normalize()
	return putStage(tx, domain.EntityCulture, tx.state.cultures, c,
		func(v *Culture) (*domain.Base, string) { return &v.Base, v.CycleID }, cloneCulture)
}

// PutTransfer upserts the cycle's transfer record.
func (tx *transaction) PutTransfer(t Transfer) (Transfer, error) {
	return putStage(tx, domain.EntityTransfer, tx.state.transfers, t,
		func(v *Transfer) (*domain.Base, string) { return &v.Base, v.CycleID }, identity[Transfer])
}

// PutFreeze upserts the cycle's freeze record.
func (tx *transaction) PutFreeze(f Freeze) (Freeze, error) {
	return putStage(tx, domain.EntityFreeze, tx.state.freezes, f,
		func(v *Freeze) (*domain.Base, string) { return &v.Base, v.CycleID }, identity[Freeze])
}

// PutPGT upserts the cycle's PGT record.
func (tx *transaction) PutPGT(p PGT) (PGT, error) {
	return putStage(tx, domain.EntityPGT, tx.state.pgts, p,
		func(v *PGT) (*domain.Base, string) { return &v.Base, v.CycleID }, clonePGT)
}

// DeleteStage removes the stage record of the given type for a cycle.
func (tx *transaction) DeleteStage(entity domain.EntityType, cycleID string) (bool, error) {
	switch entity {
	case domain.EntityRetrieval:
		return deleteStage(tx, entity, tx.state.retrievals, cycleID), nil
	case domain.EntityFertilization:
		return deleteStage(tx, entity, tx.state.fertilizations, cycleID), nil
	case domain.EntityCulture:
		return deleteStage(tx, entity, tx.state.cultures, cycleID), nil
	case domain.EntityTransfer:
		return deleteStage(tx, entity, tx.state.transfers, cycleID), nil
	case domain.EntityFreeze:
		return deleteStage(tx, entity, tx.state.freezes, cycleID), nil
	case domain.EntityPGT:
		return deleteStage(tx, entity, tx.state.pgts, cycleID), nil
	default:
		return false, fmt.Errorf("entity %q is not a stage record", entity)
	}
}

// Read helpers ---------------------------------------------------------------

// GetCycle retrieves a cycle by ID from committed state.
func (s *Store) GetCycle(id string) (Cycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.cycles[id]
	return c, ok
}

// ListCycles returns all cycles from committed state in display order.
func (s *Store) ListCycles() []Cycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListCycles()
}
