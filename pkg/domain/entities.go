// Package domain defines the treatment-cycle records, their validity rules, and
// the rule evaluation primitives used by cyclekeeper.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityCycle identifies the root cycle record.
	EntityCycle EntityType = "cycle"
	// EntityInjection identifies a medication injection record.
	EntityInjection EntityType = "injection"
	// EntityRetrieval identifies the egg retrieval record of a cycle.
	EntityRetrieval     EntityType = "retrieval"
	EntityFertilization EntityType = "fertilization"
	EntityCulture       EntityType = "culture"
	EntityTransfer      EntityType = "transfer"
	EntityFreeze        EntityType = "freeze"
	EntityPGT           EntityType = "pgt"
)

// CycleType distinguishes a full stimulation cycle from a transfer-only cycle.
type CycleType string

// Canonical cycle types.
const (
	// CycleStandard runs the full retrieval → fertilization → culture chain.
	CycleStandard CycleType = "standard"
	// CycleTransferOnly records a transfer directly after injections.
	CycleTransferOnly CycleType = "transfer_only"
)

// Valid reports whether the cycle type is one of the canonical values.
func (t CycleType) Valid() bool {
	return t == CycleStandard || t == CycleTransferOnly
}

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cycle is the root record of one treatment attempt.
type Cycle struct {
	Base
	OwnerID          string    `json:"owner_id" validate:"required"`
	Number           int       `json:"cycle_number" validate:"gt=0,lte=2147483647"`
	StartDate        string    `json:"start_date" validate:"required,civildate"`
	Title            string    `json:"title,omitempty"`
	Subtitle         string    `json:"subtitle,omitempty"`
	Type             CycleType `json:"cycle_type" validate:"required,cycletype"`
	InjectionSkipped bool      `json:"injection_skipped"`
}

// Injection is a single medication administration. A cycle owns any number of them.
type Injection struct {
	Base
	CycleID        string `json:"cycle_id"`
	MedicationName string `json:"medication_name" validate:"required"`
	Dosage         string `json:"dosage" validate:"required"`
	Date           string `json:"date" validate:"required,civildate"`
	Time           string `json:"time,omitempty" validate:"omitempty,clocktime"`
	Memo           string `json:"memo,omitempty"`
}

// Retrieval records the egg collection procedure.
type Retrieval struct {
	Base
	CycleID       string `json:"cycle_id"`
	RetrievalDate string `json:"retrieval_date" validate:"required,civildate"`
	TotalEggs     int    `json:"total_eggs" validate:"gte=0,lte=2147483647"`
	Memo          string `json:"memo,omitempty"`
}

// Fertilization records how many retrieved eggs were fertilized.
type Fertilization struct {
	Base
	CycleID           string `json:"cycle_id"`
	FertilizationDate string `json:"fertilization_date" validate:"required,civildate"`
	TotalFertilized   int    `json:"total_fertilized" validate:"gte=0,lte=2147483647"`
	Memo              string `json:"memo,omitempty"`
}

// Culture tracks embryo development and the plans chosen for the embryos.
type Culture struct {
	Base
	CycleID      string  `json:"cycle_id"`
	Day          int     `json:"day" validate:"gte=0,lte=2147483647"`
	TotalEmbryos int     `json:"total_embryos" validate:"gte=0,lte=2147483647"`
	NextPlans    PlanSet `json:"next_plans,omitempty" validate:"dive,nextplan"`
	GradeA       *int    `json:"grade_a,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	GradeB       *int    `json:"grade_b,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	GradeC       *int    `json:"grade_c,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	Memo         string  `json:"memo,omitempty"`
}

// Transfer records an embryo transfer procedure.
type Transfer struct {
	Base
	CycleID       string `json:"cycle_id"`
	TransferDate  string `json:"transfer_date" validate:"required,civildate"`
	TransferCount int    `json:"transfer_count" validate:"gte=0,lte=2147483647"`
	Memo          string `json:"memo,omitempty"`
}

// Freeze records embryo cryopreservation.
type Freeze struct {
	Base
	CycleID     string `json:"cycle_id"`
	FreezeDate  string `json:"freeze_date" validate:"required,civildate"`
	FrozenCount int    `json:"frozen_count" validate:"gte=0,lte=2147483647"`
	Memo        string `json:"memo,omitempty"`
}

// PGT records preimplantation genetic testing results.
type PGT struct {
	Base
	CycleID    string `json:"cycle_id"`
	Tested     int    `json:"tested" validate:"gte=0,lte=2147483647"`
	Euploid    int    `json:"euploid" validate:"gte=0,lte=2147483647"`
	Mosaic     *int   `json:"mosaic,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	Abnormal   int    `json:"abnormal" validate:"gte=0,lte=2147483647"`
	ResultDate string `json:"result_date" validate:"required,civildate"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// CycleID extracts the owning cycle id from a change payload, preferring the
// post-change value.
func (c Change) CycleID() string {
	if id := cycleIDOf(c.After); id != "" {
		return id
	}
	return cycleIDOf(c.Before)
}

func cycleIDOf(v any) string {
	switch rec := v.(type) {
	case Cycle:
		return rec.ID
	case Injection:
		return rec.CycleID
	case Retrieval:
		return rec.CycleID
	case Fertilization:
		return rec.CycleID
	case Culture:
		return rec.CycleID
	case Transfer:
		return rec.CycleID
	case Freeze:
		return rec.CycleID
	case PGT:
		return rec.CycleID
	default:
		return ""
	}
}
