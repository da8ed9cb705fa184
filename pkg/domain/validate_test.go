package domain

import (
	"errors"
	"testing"
)

func TestValidateAcceptsWellFormedRecords(t *testing.T) {
	grade := 2
	records := map[EntityType]any{
		EntityCycle:         Cycle{OwnerID: "o", Number: 1, StartDate: "2024-01-01", Type: CycleStandard},
		EntityInjection:     Injection{MedicationName: "Gonal-F", Dosage: "150IU", Date: "2024-01-02", Time: "21:30"},
		EntityRetrieval:     Retrieval{RetrievalDate: "2024-01-12", TotalEggs: 0},
		EntityFertilization: Fertilization{FertilizationDate: "2024-01-12", TotalFertilized: 7},
		EntityCulture:       Culture{Day: 5, TotalEmbryos: 3, NextPlans: PlanSet{PlanTransfer, PlanPGT}, GradeA: &grade},
		EntityTransfer:      Transfer{TransferDate: "2024-01-17", TransferCount: 1},
		EntityFreeze:        Freeze{FreezeDate: "2024-01-17", FrozenCount: 2},
		EntityPGT:           PGT{Tested: 3, Euploid: 1, Abnormal: 2, ResultDate: "2024-02-01"},
	}
	for entity, rec := range records {
		if err := Validate(entity, rec); err != nil {
			t.Fatalf("%s: unexpected error %v", entity, err)
		}
	}
}

func TestValidateRejectsNegativeCounts(t *testing.T) {
	mosaic := -1
	err := Validate(EntityPGT, PGT{Tested: -1, Mosaic: &mosaic, ResultDate: "2024-02-01"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	if !fields["tested"] || !fields["mosaic"] {
		t.Fatalf("expected tested and mosaic failures, got %+v", verr.Fields)
	}
}

func TestValidateRejectsCountsBeyondStorageRange(t *testing.T) {
	over := MaxCount + 1
	if err := Validate(EntityRetrieval, Retrieval{RetrievalDate: "2024-01-12", TotalEggs: MaxCount}); err != nil {
		t.Fatalf("expected max count accepted, got %v", err)
	}
	cases := map[EntityType]any{
		EntityCycle:     Cycle{OwnerID: "o", Number: over, StartDate: "2024-01-01", Type: CycleStandard},
		EntityRetrieval: Retrieval{RetrievalDate: "2024-01-12", TotalEggs: over},
		EntityCulture:   Culture{Day: 5, GradeB: &over},
		EntityPGT:       PGT{Tested: 1, Euploid: over, ResultDate: "2024-02-01"},
	}
	for entity, rec := range cases {
		err := Validate(entity, rec)
		var verr ValidationError
		if !errors.As(err, &verr) || len(verr.Fields) != 1 || verr.Fields[0].Reason != "must be at most 2147483647" {
			t.Fatalf("%s: expected single upper-bound failure, got %v", entity, err)
		}
	}
}

func TestValidateDates(t *testing.T) {
	cases := []struct {
		date string
		ok   bool
	}{
		{"2024-02-29", true},
		{"2023-02-29", false},
		{"2024/01/01", false},
		{"", false},
	}
	for _, tc := range cases {
		err := Validate(EntityRetrieval, Retrieval{RetrievalDate: tc.date})
		if (err == nil) != tc.ok {
			t.Fatalf("date %q: expected ok=%v, got %v", tc.date, tc.ok, err)
		}
	}
}

func TestValidateRejectsUnknownPlansAndTypes(t *testing.T) {
	if err := Validate(EntityCulture, Culture{Day: 5, NextPlans: PlanSet{"thaw"}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown plan rejection, got %v", err)
	}
	if err := Validate(EntityCycle, Cycle{OwnerID: "o", Number: 1, StartDate: "2024-01-01", Type: "natural"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown cycle type rejection, got %v", err)
	}
	if err := Validate(EntityCycle, Cycle{OwnerID: "o", Number: 0, StartDate: "2024-01-01", Type: CycleStandard}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected non-positive cycle number rejection, got %v", err)
	}
	if err := Validate(EntityInjection, Injection{MedicationName: "m", Dosage: "d", Date: "2024-01-01", Time: "25:00"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected bad clock time rejection, got %v", err)
	}
}

func TestPlanSetOperations(t *testing.T) {
	old := NewPlanSet(PlanTransfer, PlanFreeze, PlanPGT, PlanFreeze)
	if len(old) != 3 {
		t.Fatalf("expected duplicates dropped, got %v", old)
	}
	removed := old.Minus(NewPlanSet(PlanTransfer))
	if removed.String() != "freeze,pgt" {
		t.Fatalf("unexpected removed set %v", removed)
	}
	if NewPlanSet().Minus(old) != nil {
		t.Fatalf("expected empty difference")
	}
	if entity, ok := PlanFreeze.Entity(); !ok || entity != EntityFreeze {
		t.Fatalf("unexpected plan entity %v", entity)
	}
	if plan, ok := PlanFor(EntityPGT); !ok || plan != PlanPGT {
		t.Fatalf("unexpected plan for pgt %v", plan)
	}
	if _, ok := PlanFor(EntityRetrieval); ok {
		t.Fatalf("retrieval is not governed by a plan")
	}
}

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	err := error(NotFoundError{Entity: EntityCycle, ID: "c1"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound match")
	}
	if err.Error() != "cycle c1 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
