package domain

// CycleAggregate is the fully assembled view of one cycle. Stage records are
// nil when the cycle has none.
type CycleAggregate struct {
	Cycle
	Injections    []Injection    `json:"injections"`
	Retrieval     *Retrieval     `json:"retrieval"`
	Fertilization *Fertilization `json:"fertilization"`
	Culture       *Culture       `json:"culture"`
	Transfer      *Transfer      `json:"transfer"`
	Freeze        *Freeze        `json:"freeze"`
	PGT           *PGT           `json:"pgt"`
	// Warnings are re-derived from the current sibling records on every read.
	Warnings []string `json:"warnings,omitempty"`
}

// AssembleAggregate reads every record owned by cycle from view.
func AssembleAggregate(view TransactionView, cycle Cycle) CycleAggregate {
	agg := CycleAggregate{Cycle: cycle, Injections: view.ListInjections(cycle.ID)}
	if agg.Injections == nil {
		agg.Injections = []Injection{}
	}
	if r, ok := view.FindRetrieval(cycle.ID); ok {
		agg.Retrieval = &r
	}
	if f, ok := view.FindFertilization(cycle.ID); ok {
		agg.Fertilization = &f
	}
	if c, ok := view.FindCulture(cycle.ID); ok {
		agg.Culture = &c
	}
	if t, ok := view.FindTransfer(cycle.ID); ok {
		agg.Transfer = &t
	}
	if f, ok := view.FindFreeze(cycle.ID); ok {
		agg.Freeze = &f
	}
	if p, ok := view.FindPGT(cycle.ID); ok {
		agg.PGT = &p
	}
	return agg
}

// Stage names a point in the informational progress of a cycle.
type Stage string

// Progress stages in the order a standard cycle moves through them.
const (
	StageInjectionsPending    Stage = "injections_pending"
	StageRetrievalPending     Stage = "retrieval_pending"
	StageFertilizationPending Stage = "fertilization_pending"
	StageCulturePending       Stage = "culture_pending"
	StagePlansPending         Stage = "plans_pending"
	StageTransferPending      Stage = "transfer_pending"
	StageComplete             Stage = "complete"
)

// Progress describes where a cycle stands. Pending lists the selected plans
// whose records are still missing when Stage is StagePlansPending.
type Progress struct {
	Stage   Stage   `json:"stage"`
	Pending PlanSet `json:"pending,omitempty"`
}

// Progress infers the cycle's stage from which records are populated. It is
// never persisted and never gates writes.
func (a CycleAggregate) Progress() Progress {
	injectionsDone := a.InjectionSkipped || len(a.Injections) > 0
	if a.Type == CycleTransferOnly {
		switch {
		case a.Transfer != nil:
			return Progress{Stage: StageComplete}
		case !injectionsDone:
			return Progress{Stage: StageInjectionsPending}
		default:
			return Progress{Stage: StageTransferPending}
		}
	}
	switch {
	case a.Culture != nil:
		var pending PlanSet
		for _, plan := range a.Culture.NextPlans {
			if !a.hasStage(plan) {
				pending = append(pending, plan)
			}
		}
		if len(pending) > 0 {
			return Progress{Stage: StagePlansPending, Pending: pending.Normalize()}
		}
		return Progress{Stage: StageComplete}
	case a.Fertilization != nil:
		return Progress{Stage: StageCulturePending}
	case a.Retrieval != nil:
		return Progress{Stage: StageFertilizationPending}
	case injectionsDone:
		return Progress{Stage: StageRetrievalPending}
	default:
		return Progress{Stage: StageInjectionsPending}
	}
}

func (a CycleAggregate) hasStage(plan NextPlan) bool {
	switch plan {
	case PlanTransfer:
		return a.Transfer != nil
	case PlanFreeze:
		return a.Freeze != nil
	case PlanPGT:
		return a.PGT != nil
	default:
		return false
	}
}
