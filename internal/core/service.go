// Package core implements the cycle aggregate service and the consistency rules
// enforced around every stage write.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cyclekeeper/internal/infra/persistence/memory"
	"cyclekeeper/pkg/domain"
)

// Service exposes owner-scoped operations over cycle aggregates. Every method
// runs in one store transaction; rejected writes leave no partial state.
type Service struct {
	store   domain.PersistentStore
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
}

type nowSetter interface {
	SetNowFunc(func() time.Time)
}

// NewService constructs a service around store. When store accepts a time
// source, the service clock is installed into it.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	svc := &Service{
		store:   store,
		clock:   systemClock{},
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	if ns, ok := store.(nowSetter); ok {
		ns.SetNowFunc(svc.clock.Now)
	}
	return svc
}

// NewInMemoryService builds a service on a fresh memory store. A nil engine
// selects NewDefaultRulesEngine.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// CycleInput carries the fields of a new cycle.
type CycleInput struct {
	Number           int
	StartDate        string
	Title            string
	Subtitle         string
	Type             domain.CycleType
	InjectionSkipped bool
}

// CycleMetaPatch is a partial update of cycle metadata; nil fields are kept.
type CycleMetaPatch struct {
	Number           *int
	Title            *string
	Subtitle         *string
	Type             *domain.CycleType
	InjectionSkipped *bool
}

func (p CycleMetaPatch) empty() bool {
	return p.Number == nil && p.Title == nil && p.Subtitle == nil && p.Type == nil && p.InjectionSkipped == nil
}

// InjectionInput carries the fields of a new injection.
type InjectionInput struct {
	MedicationName string
	Dosage         string
	Date           string
	Time           string
	Memo           string
}

// InjectionPatch updates an injection. Nil name, dosage and date keep their
// current values; Time and Memo always replace the stored ones.
type InjectionPatch struct {
	MedicationName *string
	Dosage         *string
	Date           *string
	Time           string
	Memo           string
}

// CreateCycle opens a new, empty cycle for owner.
func (s *Service) CreateCycle(ctx context.Context, owner string, in CycleInput) (domain.CycleAggregate, domain.Result, error) {
	cycle := domain.Cycle{
		OwnerID:          owner,
		Number:           in.Number,
		StartDate:        in.StartDate,
		Title:            in.Title,
		Subtitle:         in.Subtitle,
		Type:             in.Type,
		InjectionSkipped: in.InjectionSkipped,
	}
	if cycle.Type == "" {
		cycle.Type = domain.CycleStandard
	}
	if cycle.Title == "" && cycle.Number > 0 {
		cycle.Title = fmt.Sprintf("Cycle %d", cycle.Number)
	}
	var agg domain.CycleAggregate
	res, err := s.run(ctx, "create_cycle", func(ctx context.Context) (domain.Result, error) {
		if err := domain.Validate(domain.EntityCycle, cycle); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			created, err := tx.CreateCycle(cycle)
			if err != nil {
				return err
			}
			agg = assemble(tx.Snapshot(), created)
			return nil
		})
	})
	return agg, res, err
}

// GetCycle returns the assembled cycle when it exists and belongs to owner.
func (s *Service) GetCycle(ctx context.Context, owner, cycleID string) (domain.CycleAggregate, error) {
	var agg domain.CycleAggregate
	_, err := s.run(ctx, "get_cycle", func(ctx context.Context) (domain.Result, error) {
		return domain.Result{}, s.store.View(ctx, func(view domain.TransactionView) error {
			cycle, err := ownedCycle(view, owner, cycleID)
			if err != nil {
				return err
			}
			agg = assemble(view, cycle)
			return nil
		})
	})
	return agg, err
}

// ListCycles returns every cycle of owner ordered by cycle number and start date.
func (s *Service) ListCycles(ctx context.Context, owner string) ([]domain.CycleAggregate, error) {
	out := []domain.CycleAggregate{}
	_, err := s.run(ctx, "list_cycles", func(ctx context.Context) (domain.Result, error) {
		return domain.Result{}, s.store.View(ctx, func(view domain.TransactionView) error {
			for _, cycle := range view.ListCycles() {
				if cycle.OwnerID == owner {
					out = append(out, assemble(view, cycle))
				}
			}
			return nil
		})
	})
	return out, err
}

// UpdateCycleMeta applies a partial metadata update. Stage records are untouched.
func (s *Service) UpdateCycleMeta(ctx context.Context, owner, cycleID string, patch CycleMetaPatch) (domain.CycleAggregate, domain.Result, error) {
	var agg domain.CycleAggregate
	res, err := s.run(ctx, "update_cycle", func(ctx context.Context) (domain.Result, error) {
		if patch.empty() {
			return domain.Result{}, domain.InvalidInput(domain.EntityCycle, "fields", "nothing to update")
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := ownedCycle(tx.Snapshot(), owner, cycleID); err != nil {
				return err
			}
			updated, err := tx.UpdateCycle(cycleID, func(c *domain.Cycle) error {
				if patch.Number != nil {
					c.Number = *patch.Number
				}
				if patch.Title != nil {
					c.Title = *patch.Title
				}
				if patch.Subtitle != nil {
					c.Subtitle = *patch.Subtitle
				}
				if patch.Type != nil {
					c.Type = *patch.Type
				}
				if patch.InjectionSkipped != nil {
					c.InjectionSkipped = *patch.InjectionSkipped
				}
				return domain.Validate(domain.EntityCycle, *c)
			})
			if err != nil {
				return err
			}
			agg = assemble(tx.Snapshot(), updated)
			return nil
		})
	})
	return agg, res, err
}

// DeleteCycle removes the cycle and every record it owns.
func (s *Service) DeleteCycle(ctx context.Context, owner, cycleID string) (domain.Result, error) {
	return s.run(ctx, "delete_cycle", func(ctx context.Context) (domain.Result, error) {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := ownedCycle(tx.Snapshot(), owner, cycleID); err != nil {
				return err
			}
			return tx.DeleteCycle(cycleID)
		})
	})
}

// AddInjection appends an injection to the cycle.
func (s *Service) AddInjection(ctx context.Context, owner, cycleID string, in InjectionInput) (domain.Injection, domain.Result, error) {
	inj := domain.Injection{
		CycleID:        cycleID,
		MedicationName: in.MedicationName,
		Dosage:         in.Dosage,
		Date:           in.Date,
		Time:           in.Time,
		Memo:           in.Memo,
	}
	var created domain.Injection
	res, err := s.run(ctx, "add_injection", func(ctx context.Context) (domain.Result, error) {
		if err := domain.Validate(domain.EntityInjection, inj); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := ownedCycle(tx.Snapshot(), owner, cycleID); err != nil {
				return err
			}
			var err error
			created, err = tx.CreateInjection(inj)
			return err
		})
	})
	return created, res, err
}

// UpdateInjection patches an injection belonging to the cycle.
func (s *Service) UpdateInjection(ctx context.Context, owner, cycleID, injectionID string, patch InjectionPatch) (domain.Injection, domain.Result, error) {
	var updated domain.Injection
	res, err := s.run(ctx, "update_injection", func(ctx context.Context) (domain.Result, error) {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := ownedInjection(tx.Snapshot(), owner, cycleID, injectionID); err != nil {
				return err
			}
			var err error
			updated, err = tx.UpdateInjection(injectionID, func(inj *domain.Injection) error {
				if patch.MedicationName != nil {
					inj.MedicationName = *patch.MedicationName
				}
				if patch.Dosage != nil {
					inj.Dosage = *patch.Dosage
				}
				if patch.Date != nil {
					inj.Date = *patch.Date
				}
				inj.Time = patch.Time
				inj.Memo = patch.Memo
				return domain.Validate(domain.EntityInjection, *inj)
			})
			return err
		})
	})
	return updated, res, err
}

// DeleteInjection removes an injection belonging to the cycle.
func (s *Service) DeleteInjection(ctx context.Context, owner, cycleID, injectionID string) (domain.Result, error) {
	return s.run(ctx, "delete_injection", func(ctx context.Context) (domain.Result, error) {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := ownedInjection(tx.Snapshot(), owner, cycleID, injectionID); err != nil {
				return err
			}
			return tx.DeleteInjection(injectionID)
		})
	})
}

// UpsertRetrieval inserts or replaces the cycle's retrieval record.
func (s *Service) UpsertRetrieval(ctx context.Context, owner, cycleID string, r domain.Retrieval) (domain.CycleAggregate, domain.Result, error) {
	r.CycleID = cycleID
	return s.upsertStage(ctx, owner, cycleID, domain.EntityRetrieval, r, func(tx domain.Transaction) error {
		_, err := tx.PutRetrieval(r)
		return err
	})
}

// UpsertFertilization inserts or replaces the fertilization record. A cycle
// without a retrieval is rejected; a count above the retrieved eggs warns.
func (s *Service) UpsertFertilization(ctx context.Context, owner, cycleID string, f domain.Fertilization) (domain.CycleAggregate, domain.Result, error) {
	f.CycleID = cycleID
	return s.upsertStage(ctx, owner, cycleID, domain.EntityFertilization, f, func(tx domain.Transaction) error {
		_, err := tx.PutFertilization(f)
		return err
	})
}

// UpsertCulture inserts or replaces the culture record. Stage records whose
// plans were dropped from NextPlans are deleted in the same transaction.
func (s *Service) UpsertCulture(ctx context.Context, owner, cycleID string, c domain.Culture) (domain.CycleAggregate, domain.Result, error) {
	c.CycleID = cycleID
	c.NextPlans = c.NextPlans.Normalize()
	var removed domain.PlanSet
	agg, res, err := s.upsertStage(ctx, owner, cycleID, domain.EntityCulture, c, func(tx domain.Transaction) error {
		var err error
		if removed, err = ReconcileCulturePlans(tx, cycleID, c.NextPlans); err != nil {
			return err
		}
		_, err = tx.PutCulture(c)
		return err
	})
	if err == nil && len(removed) > 0 {
		s.logger.Info("culture plans removed; stage records deleted", "cycle_id", cycleID, "removed_plans", removed.String())
	}
	return agg, res, err
}

// UpsertTransfer inserts or replaces the transfer record.
func (s *Service) UpsertTransfer(ctx context.Context, owner, cycleID string, t domain.Transfer) (domain.CycleAggregate, domain.Result, error) {
	t.CycleID = cycleID
	return s.upsertStage(ctx, owner, cycleID, domain.EntityTransfer, t, func(tx domain.Transaction) error {
		_, err := tx.PutTransfer(t)
		return err
	})
}

// UpsertFreeze inserts or replaces the freeze record.
func (s *Service) UpsertFreeze(ctx context.Context, owner, cycleID string, f domain.Freeze) (domain.CycleAggregate, domain.Result, error) {
	f.CycleID = cycleID
	return s.upsertStage(ctx, owner, cycleID, domain.EntityFreeze, f, func(tx domain.Transaction) error {
		_, err := tx.PutFreeze(f)
		return err
	})
}

// UpsertPGT inserts or replaces the PGT record once the culture reached day five.
func (s *Service) UpsertPGT(ctx context.Context, owner, cycleID string, p domain.PGT) (domain.CycleAggregate, domain.Result, error) {
	p.CycleID = cycleID
	return s.upsertStage(ctx, owner, cycleID, domain.EntityPGT, p, func(tx domain.Transaction) error {
		_, err := tx.PutPGT(p)
		return err
	})
}

func (s *Service) upsertStage(ctx context.Context, owner, cycleID string, entity domain.EntityType, record any, write func(domain.Transaction) error) (domain.CycleAggregate, domain.Result, error) {
	var agg domain.CycleAggregate
	res, err := s.run(ctx, "upsert_"+string(entity), func(ctx context.Context) (domain.Result, error) {
		if err := domain.Validate(entity, record); err != nil {
			return domain.Result{}, err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			cycle, err := ownedCycle(tx.Snapshot(), owner, cycleID)
			if err != nil {
				return err
			}
			if err := write(tx); err != nil {
				return err
			}
			agg = assemble(tx.Snapshot(), cycle)
			return nil
		})
	})
	if err != nil {
		return domain.CycleAggregate{}, res, err
	}
	return agg, res, nil
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (domain.Result, error)) (domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	res, err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))

	for _, v := range res.Violations {
		switch v.Severity {
		case domain.SeverityWarn:
			s.logger.Info("write accepted with warning", "operation", op, "rule", v.Rule, "entity", v.Entity, "warning", v.Message)
		case domain.SeverityLog:
			s.logger.Info("rule note", "operation", op, "rule", v.Rule, "entity", v.Entity, "message", v.Message)
		}
	}
	switch {
	case err == nil:
		s.logger.Debug("operation completed", "operation", op)
	case isRejection(err):
		s.logger.Warn("operation rejected", "operation", op, "error", err)
	default:
		s.logger.Error("operation failed", "operation", op, "error", err)
	}
	return res, err
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrMissingPrerequisite) ||
		errors.Is(err, domain.ErrStageNotReached)
}

// ownedCycle hides cycles of other owners behind the same error as missing ones.
func ownedCycle(view domain.TransactionView, owner, cycleID string) (domain.Cycle, error) {
	cycle, ok := view.FindCycle(cycleID)
	if !ok || cycle.OwnerID != owner {
		return domain.Cycle{}, domain.NotFoundError{Entity: domain.EntityCycle, ID: cycleID}
	}
	return cycle, nil
}

func ownedInjection(view domain.TransactionView, owner, cycleID, injectionID string) error {
	if _, err := ownedCycle(view, owner, cycleID); err != nil {
		return err
	}
	inj, ok := view.FindInjection(injectionID)
	if !ok || inj.CycleID != cycleID {
		return domain.NotFoundError{Entity: domain.EntityInjection, ID: injectionID}
	}
	return nil
}

func assemble(view domain.TransactionView, cycle domain.Cycle) domain.CycleAggregate {
	agg := domain.AssembleAggregate(view, cycle)
	agg.Warnings = DeriveWarnings(agg)
	return agg
}
