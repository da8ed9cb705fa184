package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cyclekeeper/internal/infra/persistence/memory"
	"cyclekeeper/pkg/domain"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadSnapshot(ctx context.Context, db queryer) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Cycles:         map[string]domain.Cycle{},
		Injections:     map[string]domain.Injection{},
		Retrievals:     map[string]domain.Retrieval{},
		Fertilizations: map[string]domain.Fertilization{},
		Cultures:       map[string]domain.Culture{},
		Transfers:      map[string]domain.Transfer{},
		Freezes:        map[string]domain.Freeze{},
		PGTs:           map[string]domain.PGT{},
	}
	loaders := []struct {
		entity domain.EntityType
		scan   func(*sql.Rows) error
	}{
		{domain.EntityCycle, func(rows *sql.Rows) error {
			var c domain.Cycle
			var number int64
			var start time.Time
			var kind string
			if err := rows.Scan(&c.ID, &c.OwnerID, &number, &start, &c.Title, &c.Subtitle, &kind, &c.InjectionSkipped, &c.CreatedAt, &c.UpdatedAt); err != nil {
				return err
			}
			c.Number = int(number)
			c.StartDate = formatDate(start)
			c.Type = domain.CycleType(kind)
			snapshot.Cycles[c.ID] = c
			return nil
		}},
		{domain.EntityInjection, func(rows *sql.Rows) error {
			var i domain.Injection
			var date time.Time
			var clock sql.NullString
			if err := rows.Scan(&i.ID, &i.CycleID, &i.MedicationName, &i.Dosage, &date, &clock, &i.Memo, &i.CreatedAt, &i.UpdatedAt); err != nil {
				return err
			}
			i.Date = formatDate(date)
			i.Time = clock.String
			snapshot.Injections[i.ID] = i
			return nil
		}},
		{domain.EntityRetrieval, func(rows *sql.Rows) error {
			var r domain.Retrieval
			var date time.Time
			var eggs int64
			if err := rows.Scan(&r.CycleID, &r.ID, &date, &eggs, &r.Memo, &r.CreatedAt, &r.UpdatedAt); err != nil {
				return err
			}
			r.RetrievalDate = formatDate(date)
			r.TotalEggs = int(eggs)
			snapshot.Retrievals[r.CycleID] = r
			return nil
		}},
		{domain.EntityFertilization, func(rows *sql.Rows) error {
			var f domain.Fertilization
			var date time.Time
			var total int64
			if err := rows.Scan(&f.CycleID, &f.ID, &date, &total, &f.Memo, &f.CreatedAt, &f.UpdatedAt); err != nil {
				return err
			}
			f.FertilizationDate = formatDate(date)
			f.TotalFertilized = int(total)
			snapshot.Fertilizations[f.CycleID] = f
			return nil
		}},
		{domain.EntityCulture, func(rows *sql.Rows) error {
			var c domain.Culture
			var day, embryos int64
			var plans []byte
			var a, b, grade sql.NullInt64
			if err := rows.Scan(&c.CycleID, &c.ID, &day, &embryos, &plans, &a, &b, &grade, &c.Memo, &c.CreatedAt, &c.UpdatedAt); err != nil {
				return err
			}
			if len(plans) > 0 {
				if err := json.Unmarshal(plans, &c.NextPlans); err != nil {
					return fmt.Errorf("decode next plans: %w", err)
				}
			}
			c.Day = int(day)
			c.TotalEmbryos = int(embryos)
			c.NextPlans = c.NextPlans.Normalize()
			c.GradeA, c.GradeB, c.GradeC = intPtr(a), intPtr(b), intPtr(grade)
			snapshot.Cultures[c.CycleID] = c
			return nil
		}},
		{domain.EntityTransfer, func(rows *sql.Rows) error {
			var t domain.Transfer
			var date time.Time
			var count int64
			if err := rows.Scan(&t.CycleID, &t.ID, &date, &count, &t.Memo, &t.CreatedAt, &t.UpdatedAt); err != nil {
				return err
			}
			t.TransferDate = formatDate(date)
			t.TransferCount = int(count)
			snapshot.Transfers[t.CycleID] = t
			return nil
		}},
		{domain.EntityFreeze, func(rows *sql.Rows) error {
			var f domain.Freeze
			var date time.Time
			var count int64
			if err := rows.Scan(&f.CycleID, &f.ID, &date, &count, &f.Memo, &f.CreatedAt, &f.UpdatedAt); err != nil {
				return err
			}
			f.FreezeDate = formatDate(date)
			f.FrozenCount = int(count)
			snapshot.Freezes[f.CycleID] = f
			return nil
		}},
		{domain.EntityPGT, func(rows *sql.Rows) error {
			var p domain.PGT
			var tested, euploid, abnormal int64
			var mosaic sql.NullInt64
			var date time.Time
			if err := rows.Scan(&p.CycleID, &p.ID, &tested, &euploid, &mosaic, &abnormal, &date, &p.CreatedAt, &p.UpdatedAt); err != nil {
				return err
			}
			p.Tested, p.Euploid, p.Abnormal = int(tested), int(euploid), int(abnormal)
			p.Mosaic = intPtr(mosaic)
			p.ResultDate = formatDate(date)
			snapshot.PGTs[p.CycleID] = p
			return nil
		}},
	}
	for _, l := range loaders {
		if err := loadTable(ctx, db, tables[l.entity], l.scan); err != nil {
			return memory.Snapshot{}, err
		}
	}
	return snapshot, nil
}

func loadTable(ctx context.Context, db queryer, t table, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, t.selectSQL())
	if err != nil {
		return fmt.Errorf("select %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %s: %w", t.name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return nil
}

func formatDate(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
