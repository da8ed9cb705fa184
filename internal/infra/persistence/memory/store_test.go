package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cyclekeeper/pkg/domain"
)

func seedCycle(t *testing.T, store *Store) Cycle {
	t.Helper()
	var created Cycle
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		c, err := tx.CreateCycle(Cycle{OwnerID: "owner", Number: 1, StartDate: "2024-01-01", Type: domain.CycleStandard})
		created = c
		return err
	}); err != nil {
		t.Fatalf("seed cycle: %v", err)
	}
	return created
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.Snapshot().FindCycle("missing"); ok {
			t.Fatalf("expected missing cycle lookup")
		}
		created, err := tx.CreateCycle(Cycle{OwnerID: "o", Number: 1, StartDate: "2024-01-01", Type: domain.CycleStandard})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if len(tx.Snapshot().ListCycles()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListCycles()) != 1 {
		t.Fatalf("expected persisted cycle")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListCycles()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListCycles()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
}

func TestStageUpsertReplacesInPlace(t *testing.T) {
	store := NewStore(nil)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return first })
	cycle := seedCycle(t, store)
	ctx := context.Background()

	var original Retrieval
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		r, err := tx.PutRetrieval(Retrieval{CycleID: cycle.ID, RetrievalDate: "2024-01-10", TotalEggs: 8})
		original = r
		return err
	}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	later := first.Add(time.Hour)
	store.SetNowFunc(func() time.Time { return later })
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.PutRetrieval(Retrieval{CycleID: cycle.ID, RetrievalDate: "2024-01-11", TotalEggs: 10})
		return err
	}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if err := store.View(ctx, func(view domain.TransactionView) error {
		got, ok := view.FindRetrieval(cycle.ID)
		if !ok {
			t.Fatalf("expected retrieval")
		}
		if got.ID != original.ID || !got.CreatedAt.Equal(first) || !got.UpdatedAt.Equal(later) {
			t.Fatalf("expected in-place replace, got %+v", got)
		}
		if got.TotalEggs != 10 {
			t.Fatalf("expected replaced value, got %d", got.TotalEggs)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if n := len(store.ExportState().Retrievals); n != 1 {
		t.Fatalf("expected one retrieval, got %d", n)
	}
}

func TestStageWritesRequireCycle(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutTransfer(Transfer{CycleID: "missing", TransferDate: "2024-01-01"})
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCycleCascadesToOwnedRecords(t *testing.T) {
	store := NewStore(nil)
	cycle := seedCycle(t, store)
	other := seedCycle(t, store)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, id := range []string{cycle.ID, other.ID} {
			if _, err := tx.CreateInjection(Injection{CycleID: id, MedicationName: "m", Dosage: "1", Date: "2024-01-02"}); err != nil {
				return err
			}
			if _, err := tx.PutRetrieval(Retrieval{CycleID: id, RetrievalDate: "2024-01-10"}); err != nil {
				return err
			}
			if _, err := tx.PutCulture(Culture{CycleID: id, Day: 5, NextPlans: domain.NewPlanSet(domain.PlanFreeze)}); err != nil {
				return err
			}
			if _, err := tx.PutFreeze(Freeze{CycleID: id, FreezeDate: "2024-01-15", FrozenCount: 2}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var recorded []Change
	store.SetCommitHook(func(_ context.Context, changes []Change, _ Snapshot) error {
		recorded = changes
		return nil
	})
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteCycle(cycle.ID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Entity != domain.EntityCycle || recorded[0].Action != domain.ActionDelete {
		t.Fatalf("expected a single cycle delete change, got %+v", recorded)
	}
	snap := store.ExportState()
	if len(snap.Cycles) != 1 || len(snap.Injections) != 1 || len(snap.Retrievals) != 1 || len(snap.Cultures) != 1 || len(snap.Freezes) != 1 {
		t.Fatalf("expected only the other cycle's records to remain: %+v", snap)
	}
	if _, ok := snap.Cycles[other.ID]; !ok {
		t.Fatalf("expected other cycle to survive")
	}
}

func TestInjectionsOrderedByDateThenTime(t *testing.T) {
	store := NewStore(nil)
	cycle := seedCycle(t, store)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, inj := range []Injection{
			{Date: "2024-01-03", Time: "08:00"},
			{Date: "2024-01-02", Time: "20:00"},
			{Date: "2024-01-02", Time: "07:30"},
		} {
			inj.CycleID = cycle.ID
			inj.MedicationName = "med"
			inj.Dosage = "150IU"
			if _, err := tx.CreateInjection(inj); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var got []string
	_ = store.View(ctx, func(view domain.TransactionView) error {
		for _, inj := range view.ListInjections(cycle.ID) {
			got = append(got, inj.Date+" "+inj.Time)
		}
		return nil
	})
	want := []string{"2024-01-02 07:30", "2024-01-02 20:00", "2024-01-03 08:00"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestUpdateCyclePreservesIdentity(t *testing.T) {
	store := NewStore(nil)
	cycle := seedCycle(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateCycle("missing", func(*Cycle) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := tx.UpdateCycle(cycle.ID, func(*Cycle) error { return fmt.Errorf("boom") }); err == nil {
			t.Fatalf("expected mutator error")
		}
		updated, err := tx.UpdateCycle(cycle.ID, func(c *Cycle) error {
			c.OwnerID = "intruder"
			c.Subtitle = "second try"
			return nil
		})
		if err != nil {
			return err
		}
		if updated.OwnerID != "owner" || updated.Subtitle != "second try" {
			t.Fatalf("unexpected update result %+v", updated)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateCycle(Cycle{OwnerID: "o", Number: 1})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ListCycles()) != 0 {
		t.Fatalf("expected blocked transaction to leave state untouched")
	}
}

func TestCommitHookFailureRollsBack(t *testing.T) {
	store := NewStore(nil)
	cycle := seedCycle(t, store)
	store.SetCommitHook(func(context.Context, []Change, Snapshot) error {
		return errors.New("disk full")
	})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutRetrieval(Retrieval{CycleID: cycle.ID, RetrievalDate: "2024-01-10"})
		return err
	})
	if err == nil {
		t.Fatalf("expected commit failure")
	}
	if len(store.ExportState().Retrievals) != 0 {
		t.Fatalf("expected retrieval to be rolled back")
	}
}

func TestCultureSnapshotIsolation(t *testing.T) {
	store := NewStore(nil)
	cycle := seedCycle(t, store)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.PutCulture(Culture{CycleID: cycle.ID, Day: 5, NextPlans: domain.PlanSet{domain.PlanPGT, domain.PlanFreeze, domain.PlanPGT}})
		return err
	}); err != nil {
		t.Fatalf("put culture: %v", err)
	}
	snap := store.ExportState()
	culture := snap.Cultures[cycle.ID]
	if culture.NextPlans.String() != "freeze,pgt" {
		t.Fatalf("expected normalized plans, got %v", culture.NextPlans)
	}
	culture.NextPlans[0] = domain.PlanTransfer
	_ = store.View(ctx, func(view domain.TransactionView) error {
		got, _ := view.FindCulture(cycle.ID)
		if got.NextPlans.Has(domain.PlanTransfer) {
			t.Fatalf("expected snapshot copy isolation")
		}
		return nil
	})
}

func TestDeleteStageRejectsNonStageEntity(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.DeleteStage(domain.EntityInjection, "c")
		return err
	})
	if err == nil {
		t.Fatalf("expected error for non-stage entity")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}
