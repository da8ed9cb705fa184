// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while writing every committed change to normalized tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"cyclekeeper/internal/infra/persistence/memory"
	"cyclekeeper/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/cyclekeeper?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions and reads.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN. It applies the
// schema and hydrates the in-memory store from the existing rows.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db}
	mem.SetCommitHook(s.applyChanges)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applySchema(ctx context.Context, db execer) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// applyChanges replays a transaction's change list inside one SQL transaction.
func (s *Store) applyChanges(ctx context.Context, changes []memory.Change, _ memory.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, change := range changes {
		if err := applyChange(ctx, tx, change); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func applyChange(ctx context.Context, db execer, change domain.Change) error {
	t, ok := tables[change.Entity]
	if !ok {
		return fmt.Errorf("no table for entity %q", change.Entity)
	}
	if change.Action == domain.ActionDelete {
		key, err := t.key(change.Before)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, t.deleteSQL(), key); err != nil {
			return fmt.Errorf("delete %s: %w", t.name, err)
		}
		return nil
	}
	args, err := t.row(change.After)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, t.upsertSQL(), args...); err != nil {
		return fmt.Errorf("upsert %s: %w", t.name, err)
	}
	return nil
}

// table describes how one record type maps to its relation. conflict is the
// unique column used for upserts and deletes: id for cycles and injections,
// cycle_id for stage records.
type table struct {
	name     string
	conflict string
	columns  []string
	row      func(any) ([]any, error)
}

func (t table) key(v any) (any, error) {
	args, err := t.row(v)
	if err != nil {
		return nil, err
	}
	for i, col := range t.columns {
		if col == t.conflict {
			return args[i], nil
		}
	}
	return nil, fmt.Errorf("%s: conflict column %s missing", t.name, t.conflict)
}

func (t table) upsertSQL() string {
	placeholders := make([]string, len(t.columns))
	var updates []string
	for i, col := range t.columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col == t.conflict || col == "id" || col == "created_at" {
			continue
		}
		updates = append(updates, col+"=EXCLUDED."+col)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		t.name, strings.Join(t.columns, ", "), strings.Join(placeholders, ","), t.conflict, strings.Join(updates, ", "))
}

func (t table) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", t.name, t.conflict)
}

func (t table) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)
}

func civil(s string) (time.Time, error) {
	d, err := domain.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return d, nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mismatch(entity domain.EntityType, v any) error {
	return fmt.Errorf("unexpected %s payload %T", entity, v)
}

var tables = map[domain.EntityType]table{
	domain.EntityCycle: {
		name: "cycles", conflict: "id",
		columns: []string{"id", "owner_id", "cycle_number", "start_date", "title", "subtitle", "cycle_type", "injection_skipped", "created_at", "updated_at"},
		row: func(v any) ([]any, error) {
			c, ok := v.(domain.Cycle)
			if !ok {
				return nil, mismatch(domain.EntityCycle, v)
			}
			start, err := civil(c.StartDate)
			if err != nil {
				return nil, err
			}
			return []any{c.ID, c.OwnerID, int64(c.Number), start, c.Title, c.Subtitle, string(c.Type), c.InjectionSkipped, c.CreatedAt, c.UpdatedAt}, nil
		},
	},
	domain.EntityInjection: {
		name: "injections", conflict: "id",
		columns: []string{"id", "cycle_id", "medication_name", "dosage", "injection_date", "injection_time", "memo", "created_at", "updated_at"},
		row: func(v any) ([]any, error) {
			i, ok := v.(domain.Injection)
			if !ok {
				return nil, mismatch(domain.EntityInjection, v)
			}
			date, err := civil(i.Date)
			if err != nil {
				return nil, err
			}
			return []any{i.ID, i.CycleID, i.MedicationName, i.Dosage, date, nullableString(i.Time), i.Memo, i.CreatedAt, i.UpdatedAt}, nil
		},
	},
	domain.EntityRetrieval: {
		name: "retrievals", conflict: "cycle_id",
		columns: []string{"cycle_id", "id", "retrieval_date", "total_eggs", "memo", "created_at", "updated_at"},
		row: func(v any) ([]any, error) {
			r, ok := v.(domain.Retrieval)
			if !ok {
				return nil, mismatch(domain.EntityRetrieval, v)
			}
			date, err := civil(r.RetrievalDate)
			if err != nil {
				return nil, err
			}
			return []any{r.CycleID, r.ID, date, int64(r.TotalEggs), r.Memo, r.CreatedAt, r.UpdatedAt}, nil
		},
	},
	domain.EntityFertilization: {
		name: "fertilizations", conflict: "cycle_id",
		columns: []string{"cycle_id", "id", "fertilization_date", "total_fertilized", "memo", "created_at", "updated_at"},
		row: func(v any) ([]any, error) {
			f, ok := v.(domain.Fertilization)
			if !ok {
				return nil, mismatch(domain.EntityFertilization, v)
			}
			date, err := civil(f.FertilizationDate)
			if err != nil {
				return nil, err
			}
			return []any{f.CycleID, f.ID, date, int64(f.TotalFertilized), f.Memo, f.CreatedAt, f.UpdatedAt}, nil
		},
	},
	domain.EntityCulture: {
		name: "cultures", conflict: "cycle_id",
		columns: []string{"cycle_id", "id", "culture_day", "total_embryos", "next_plans", "grade_a", "grade_b", "grade_c", "memo", "created_at", "updated_at"},
		row: func(v any) ([]any, error) {
			c, ok := v.(domain.Culture)
			if !ok {
				return nil, mismatch(domain.EntityCulture, v)
			}
			plans := c.NextPlans.Normalize()
			if plans == nil {
				plans = domain.PlanSet{}
			}
			encoded, err := json.Marshal(plans)
			if err != nil {
				return nil, fmt.Errorf("encode next plans: %w", err)
			}
			return []any{c.CycleID, c.ID, int64(c.Day), int64(c.TotalEmbryos), string(encoded), nullableInt(c.GradeA), nullableInt(c.GradeB), nullableInt(c.GradeC), c.Memo, c.CreatedAt, c.UpdatedAt}, nil
		},
	},
	domain.EntityTransfer: {
		name: "transfers", conflict: "cycle_id",
		columns: []string{"cycle_id", "id", "transfer_date", "transfer_count", "memo", "created_at", "updated_at"},
		row: func(v any) ([]any, error) {
			t, ok := v.(domain.Transfer)
			if !ok {
				return nil, mismatch(domain.EntityTransfer, v)
			}
			date, err := civil(t.TransferDate)
			if err != nil {
				return nil, err
			}
			return []any{t.CycleID, t.ID, date, int64(t.TransferCount), t.Memo, t.CreatedAt, t.UpdatedAt}, nil
		},
	},
	domain.EntityFreeze: {
		name: "freezes", conflict: "cycle_id",
		columns: []string{"cycle_id", "id", "freeze_date", "frozen_count", "memo", "created_at", "updated_at"},
		row: func(v any) ([]any, error) {
			f, ok := v.(domain.Freeze)
			if !ok {
				return nil, mismatch(domain.EntityFreeze, v)
			}
			date, err := civil(f.FreezeDate)
			if err != nil {
				return nil, err
			}
			return []any{f.CycleID, f.ID, date, int64(f.FrozenCount), f.Memo, f.CreatedAt, f.UpdatedAt}, nil
		},
	},
	domain.EntityPGT: {
		name: "pgts", conflict: "cycle_id",
		columns: []string{"cycle_id", "id", "tested", "euploid", "mosaic", "abnormal", "result_date", "created_at", "updated_at"},
		row: func(v any) ([]any, error) {
			p, ok := v.(domain.PGT)
			if !ok {
				return nil, mismatch(domain.EntityPGT, v)
			}
			date, err := civil(p.ResultDate)
			if err != nil {
				return nil, err
			}
			return []any{p.CycleID, p.ID, int64(p.Tested), int64(p.Euploid), nullableInt(p.Mosaic), int64(p.Abnormal), date, p.CreatedAt, p.UpdatedAt}, nil
		},
	},
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
