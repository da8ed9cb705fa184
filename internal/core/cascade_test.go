package core

import (
	"context"
	"testing"

	"cyclekeeper/internal/infra/persistence/memory"
	"cyclekeeper/pkg/domain"
)

func seedCulture(t *testing.T, store *memory.Store, plans domain.PlanSet) string {
	t.Helper()
	var cycleID string
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		c, err := tx.CreateCycle(domain.Cycle{OwnerID: "o", Number: 1, StartDate: "2024-01-01", Type: domain.CycleStandard})
		if err != nil {
			return err
		}
		cycleID = c.ID
		if _, err := tx.PutCulture(domain.Culture{CycleID: c.ID, Day: 5, TotalEmbryos: 4, NextPlans: plans}); err != nil {
			return err
		}
		if _, err := tx.PutTransfer(domain.Transfer{CycleID: c.ID, TransferDate: "2024-01-20", TransferCount: 1}); err != nil {
			return err
		}
		if _, err := tx.PutFreeze(domain.Freeze{CycleID: c.ID, FreezeDate: "2024-01-20", FrozenCount: 2}); err != nil {
			return err
		}
		_, err = tx.PutPGT(domain.PGT{CycleID: c.ID, Tested: 1, Euploid: 1, ResultDate: "2024-01-25"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return cycleID
}

func TestReconcileCulturePlansIsIdempotent(t *testing.T) {
	store := memory.NewStore(nil)
	cycleID := seedCulture(t, store, domain.NewPlanSet(domain.PlanTransfer, domain.PlanFreeze, domain.PlanPGT))
	next := domain.NewPlanSet(domain.PlanTransfer)

	reconcile := func() domain.PlanSet {
		var removed domain.PlanSet
		_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			var err error
			if removed, err = ReconcileCulturePlans(tx, cycleID, next); err != nil {
				return err
			}
			_, err = tx.PutCulture(domain.Culture{CycleID: cycleID, Day: 5, TotalEmbryos: 4, NextPlans: next})
			return err
		})
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		return removed
	}

	removed := reconcile()
	if removed.String() != "freeze,pgt" {
		t.Fatalf("expected freeze and pgt removed, got %q", removed)
	}
	if again := reconcile(); len(again) != 0 {
		t.Fatalf("expected no removals on repeat, got %q", again)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if _, ok := view.FindTransfer(cycleID); !ok {
			t.Fatalf("expected transfer kept")
		}
		if _, ok := view.FindFreeze(cycleID); ok {
			t.Fatalf("expected freeze removed")
		}
		return nil
	})
}

func TestReconcileWithoutCultureRemovesNothing(t *testing.T) {
	store := memory.NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		removed, err := ReconcileCulturePlans(tx, "missing", nil)
		if len(removed) != 0 {
			t.Fatalf("expected nothing removed, got %v", removed)
		}
		return err
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func TestValidateWriteChecks(t *testing.T) {
	store := memory.NewStore(nil)
	cycleID := seedCulture(t, store, domain.NewPlanSet(domain.PlanTransfer))
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		res := ValidateFertilizationWrite(view, domain.Fertilization{CycleID: cycleID, TotalFertilized: 1})
		if !res.HasBlocking() || res.Violations[0].Code != domain.CodeMissingPrerequisite {
			t.Fatalf("expected missing retrieval to block, got %+v", res)
		}
		if res := ValidatePGTWrite(view, domain.PGT{CycleID: cycleID}); res.HasBlocking() {
			t.Fatalf("expected day 5 culture to allow pgt, got %+v", res)
		}
		if res := CheckPlanAlignment(view, domain.EntityFreeze, cycleID, "f1"); len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityLog {
			t.Fatalf("expected log violation for unplanned freeze, got %+v", res)
		}
		if res := CheckPlanAlignment(view, domain.EntityTransfer, cycleID, "t1"); len(res.Violations) != 0 {
			t.Fatalf("expected planned transfer to pass, got %+v", res)
		}
		return nil
	})
	if res := ValidateTransferWrite(domain.Transfer{TransferCount: MaxRecommendedTransfer + 1}); res.Warning() != MsgTransferExceedsCap || res.HasBlocking() {
		t.Fatalf("expected non-blocking cap warning, got %+v", res)
	}
}

func TestDeriveWarnings(t *testing.T) {
	agg := domain.CycleAggregate{
		Retrieval:     &domain.Retrieval{TotalEggs: 2},
		Fertilization: &domain.Fertilization{TotalFertilized: 3},
		Transfer:      &domain.Transfer{TransferCount: 5},
	}
	got := DeriveWarnings(agg)
	if len(got) != 2 || got[0] != MsgFertilizedExceedsRetrieved || got[1] != MsgTransferExceedsCap {
		t.Fatalf("unexpected warnings: %v", got)
	}
	agg.Retrieval = nil
	if got := DeriveWarnings(agg); len(got) != 1 {
		t.Fatalf("expected only the transfer warning without retrieval, got %v", got)
	}
}

func TestDefaultRulesEngineOrder(t *testing.T) {
	names := NewDefaultRulesEngine().Rules()
	want := []string{ruleFertilizationPrerequisite, ruleTransferCap, rulePGTStage, rulePlanAlignment}
	if len(names) != len(want) {
		t.Fatalf("expected %d rules, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("rule %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}
