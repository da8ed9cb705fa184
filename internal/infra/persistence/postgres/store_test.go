package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"cyclekeeper/internal/infra/persistence/postgres/testutil"
	"cyclekeeper/pkg/domain"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func seedCycle(t *testing.T, store *Store) domain.Cycle {
	t.Helper()
	var cycle domain.Cycle
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		c, err := tx.CreateCycle(domain.Cycle{OwnerID: "owner", Number: 1, StartDate: "2024-01-01", Type: domain.CycleStandard})
		if err != nil {
			return err
		}
		cycle = c
		if _, err := tx.CreateInjection(domain.Injection{CycleID: c.ID, MedicationName: "Menopur", Dosage: "75IU", Date: "2024-01-02", Time: "20:00"}); err != nil {
			return err
		}
		grade := 2
		if _, err := tx.PutCulture(domain.Culture{CycleID: c.ID, Day: 5, TotalEmbryos: 3, NextPlans: domain.NewPlanSet(domain.PlanFreeze, domain.PlanTransfer), GradeA: &grade}); err != nil {
			return err
		}
		if _, err := tx.PutTransfer(domain.Transfer{CycleID: c.ID, TransferDate: "2024-01-20", TransferCount: 1}); err != nil {
			return err
		}
		_, err = tx.PutFreeze(domain.Freeze{CycleID: c.ID, FreezeDate: "2024-01-20", FrozenCount: 2})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return cycle
}

func TestNewStoreAppliesSchema(t *testing.T) {
	_, conn := openStub(t)
	var tablesCreated int
	for _, stmt := range conn.Execs {
		if strings.HasPrefix(strings.TrimSpace(stmt), "CREATE TABLE") {
			tablesCreated++
		}
	}
	if tablesCreated != 8 {
		t.Fatalf("expected 8 tables created, got %d", tablesCreated)
	}
}

func TestRunInTransactionWritesNormalizedRows(t *testing.T) {
	store, conn := openStub(t)
	cycle := seedCycle(t, store)

	cycles := conn.Rows("cycles")
	if len(cycles) != 1 || cycles[0]["id"] != cycle.ID {
		t.Fatalf("expected cycle row, got %v", cycles)
	}
	if got := conn.Rows("cultures"); len(got) != 1 || got[0]["next_plans"] != `["freeze","transfer"]` {
		t.Fatalf("expected culture row with encoded plans, got %v", got)
	}
	if got := conn.Rows("injections"); len(got) != 1 || got[0]["injection_time"] != "20:00" {
		t.Fatalf("expected injection row, got %v", got)
	}
	if conn.Commits == 0 {
		t.Fatalf("expected committed sql transaction")
	}
}

func TestStageUpsertKeepsSingleRow(t *testing.T) {
	store, conn := openStub(t)
	cycle := seedCycle(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutTransfer(domain.Transfer{CycleID: cycle.ID, TransferDate: "2024-01-21", TransferCount: 2})
		return err
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rows := conn.Rows("transfers")
	if len(rows) != 1 || rows[0]["transfer_count"] != int64(2) {
		t.Fatalf("expected replaced transfer row, got %v", rows)
	}
}

func TestDeleteStagePropagates(t *testing.T) {
	store, conn := openStub(t)
	cycle := seedCycle(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.DeleteStage(domain.EntityFreeze, cycle.ID)
		return err
	})
	if err != nil {
		t.Fatalf("delete stage: %v", err)
	}
	if len(conn.Rows("freezes")) != 0 {
		t.Fatalf("expected freeze row removed")
	}
	if len(conn.Rows("transfers")) != 1 {
		t.Fatalf("expected transfer row untouched")
	}
}

func TestDeleteCycleCascadesThroughForeignKeys(t *testing.T) {
	store, conn := openStub(t)
	cycle := seedCycle(t, store)
	before := len(conn.Execs)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteCycle(cycle.ID)
	})
	if err != nil {
		t.Fatalf("delete cycle: %v", err)
	}
	var deletes []string
	for _, stmt := range conn.Execs[before:] {
		if strings.HasPrefix(strings.TrimSpace(stmt), "DELETE") {
			deletes = append(deletes, stmt)
		}
	}
	if len(deletes) != 1 || !strings.Contains(deletes[0], "cycles") {
		t.Fatalf("expected only the cycle delete to be issued, got %v", deletes)
	}
	for _, table := range []string{"cycles", "injections", "cultures", "transfers", "freezes"} {
		if rows := conn.Rows(table); len(rows) != 0 {
			t.Fatalf("expected %s emptied by cascade, got %v", table, rows)
		}
	}
}

func TestReloadHydratesFromTables(t *testing.T) {
	db, _ := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	ctx := context.Background()

	first, err := NewStore(ctx, "ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cycle := seedCycle(t, first)

	second, err := NewStore(ctx, "ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	err = second.View(ctx, func(view domain.TransactionView) error {
		got, ok := view.FindCycle(cycle.ID)
		if !ok || got.StartDate != "2024-01-01" || got.Type != domain.CycleStandard {
			t.Fatalf("unexpected cycle after reload: %+v", got)
		}
		culture, ok := view.FindCulture(cycle.ID)
		if !ok || culture.GradeA == nil || *culture.GradeA != 2 || culture.GradeB != nil {
			t.Fatalf("unexpected culture after reload: %+v", culture)
		}
		if !culture.NextPlans.Has(domain.PlanFreeze) || !culture.NextPlans.Has(domain.PlanTransfer) {
			t.Fatalf("expected plans after reload, got %v", culture.NextPlans)
		}
		injections := view.ListInjections(cycle.ID)
		if len(injections) != 1 || injections[0].Time != "20:00" || injections[0].Date != "2024-01-02" {
			t.Fatalf("unexpected injections after reload: %+v", injections)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestFailedWriteRollsBackMemory(t *testing.T) {
	store, conn := openStub(t)
	cycle := seedCycle(t, store)
	conn.FailTables = map[string]bool{"pgts": true}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutPGT(domain.PGT{CycleID: cycle.ID, Tested: 1, ResultDate: "2024-02-01"})
		return err
	})
	if err == nil {
		t.Fatalf("expected write failure")
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if _, ok := view.FindPGT(cycle.ID); ok {
			t.Fatalf("expected pgt to be rolled back in memory")
		}
		return nil
	})
	if conn.Rollbacks == 0 {
		t.Fatalf("expected sql rollback")
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	if _, err := NewStore(context.Background(), "dsn", nil); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "dsn", nil); err == nil {
		t.Fatalf("expected ping error")
	}
	conn.FailPing = false
	conn.FailTables = map[string]bool{"cycles": true}
	if _, err := NewStore(context.Background(), "dsn", nil); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestApplyChangeRejectsMismatchedPayload(t *testing.T) {
	rec := &recordingExec{}
	err := applyChange(context.Background(), rec, domain.Change{Entity: domain.EntityCycle, Action: domain.ActionCreate, After: domain.Freeze{}})
	if err == nil {
		t.Fatalf("expected payload mismatch error")
	}
	if len(rec.execs) != 0 {
		t.Fatalf("expected no statements, got %v", rec.execs)
	}
}

func TestUpsertSQLTargetsCycleForStages(t *testing.T) {
	stmt := tables[domain.EntityPGT].upsertSQL()
	if !strings.Contains(stmt, "ON CONFLICT (cycle_id)") {
		t.Fatalf("expected cycle_id conflict target, got %s", stmt)
	}
	if strings.Contains(stmt, "created_at=EXCLUDED") || strings.Contains(stmt, " id=EXCLUDED") {
		t.Fatalf("identity columns must not be updated: %s", stmt)
	}
	rec := &recordingExec{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := applyChange(context.Background(), rec, domain.Change{
		Entity: domain.EntityPGT, Action: domain.ActionDelete,
		Before: domain.PGT{Base: domain.Base{ID: "p1", CreatedAt: now}, CycleID: "c1", ResultDate: "2024-02-01"},
	})
	if err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if len(rec.execs) != 1 || rec.args[0][0] != "c1" {
		t.Fatalf("expected delete keyed by cycle id, got %v %v", rec.execs, rec.args)
	}
}

type recordingExec struct {
	execs []string
	args  [][]any
}

func (r *recordingExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.execs = append(r.execs, query)
	r.args = append(r.args, args)
	return nil, nil
}
