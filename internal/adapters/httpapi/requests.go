package httpapi

import (
	"cyclekeeper/internal/core"
	"cyclekeeper/pkg/domain"
)

// Counts are pointers so that an omitted count is rejected rather than read
// as zero.

type createCycleRequest struct {
	CycleNumber      *int   `json:"cycle_number" validate:"required"`
	StartDate        string `json:"start_date" validate:"required"`
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle"`
	CycleType        string `json:"cycle_type"`
	InjectionSkipped bool   `json:"injection_skipped"`
}

func (r createCycleRequest) input() core.CycleInput {
	return core.CycleInput{
		Number:           *r.CycleNumber,
		StartDate:        r.StartDate,
		Title:            r.Title,
		Subtitle:         r.Subtitle,
		Type:             domain.CycleType(r.CycleType),
		InjectionSkipped: r.InjectionSkipped,
	}
}

type patchCycleRequest struct {
	CycleNumber      *int    `json:"cycle_number"`
	Title            *string `json:"title"`
	Subtitle         *string `json:"subtitle"`
	CycleType        *string `json:"cycle_type"`
	InjectionSkipped *bool   `json:"injection_skipped"`
}

func (r patchCycleRequest) patch() core.CycleMetaPatch {
	p := core.CycleMetaPatch{
		Number:           r.CycleNumber,
		Title:            r.Title,
		Subtitle:         r.Subtitle,
		InjectionSkipped: r.InjectionSkipped,
	}
	if r.CycleType != nil {
		t := domain.CycleType(*r.CycleType)
		p.Type = &t
	}
	return p
}

type injectionRequest struct {
	MedicationName string `json:"medication_name" validate:"required"`
	Dosage         string `json:"dosage" validate:"required"`
	Date           string `json:"date" validate:"required"`
	Time           string `json:"time"`
	Memo           string `json:"memo"`
}

type injectionPatchRequest struct {
	MedicationName *string `json:"medication_name"`
	Dosage         *string `json:"dosage"`
	Date           *string `json:"date"`
	Time           string  `json:"time"`
	Memo           string  `json:"memo"`
}

type retrievalRequest struct {
	RetrievalDate string `json:"retrieval_date" validate:"required"`
	TotalEggs     *int   `json:"total_eggs" validate:"required"`
	Memo          string `json:"memo"`
}

func (r retrievalRequest) record() domain.Retrieval {
	return domain.Retrieval{RetrievalDate: r.RetrievalDate, TotalEggs: *r.TotalEggs, Memo: r.Memo}
}

type fertilizationRequest struct {
	FertilizationDate string `json:"fertilization_date" validate:"required"`
	TotalFertilized   *int   `json:"total_fertilized" validate:"required"`
	Memo              string `json:"memo"`
}

func (r fertilizationRequest) record() domain.Fertilization {
	return domain.Fertilization{FertilizationDate: r.FertilizationDate, TotalFertilized: *r.TotalFertilized, Memo: r.Memo}
}

type cultureRequest struct {
	Day          *int     `json:"day" validate:"required"`
	TotalEmbryos *int     `json:"total_embryos" validate:"required"`
	NextPlans    []string `json:"next_plans"`
	GradeA       *int     `json:"grade_a"`
	GradeB       *int     `json:"grade_b"`
	GradeC       *int     `json:"grade_c"`
	Memo         string   `json:"memo"`
}

func (r cultureRequest) record() domain.Culture {
	plans := make(domain.PlanSet, 0, len(r.NextPlans))
	for _, p := range r.NextPlans {
		plans = append(plans, domain.NextPlan(p))
	}
	return domain.Culture{
		Day:          *r.Day,
		TotalEmbryos: *r.TotalEmbryos,
		NextPlans:    plans,
		GradeA:       r.GradeA,
		GradeB:       r.GradeB,
		GradeC:       r.GradeC,
		Memo:         r.Memo,
	}
}

type transferRequest struct {
	TransferDate  string `json:"transfer_date" validate:"required"`
	TransferCount *int   `json:"transfer_count" validate:"required"`
	Memo          string `json:"memo"`
}

func (r transferRequest) record() domain.Transfer {
	return domain.Transfer{TransferDate: r.TransferDate, TransferCount: *r.TransferCount, Memo: r.Memo}
}

type freezeRequest struct {
	FreezeDate  string `json:"freeze_date" validate:"required"`
	FrozenCount *int   `json:"frozen_count" validate:"required"`
	Memo        string `json:"memo"`
}

func (r freezeRequest) record() domain.Freeze {
	return domain.Freeze{FreezeDate: r.FreezeDate, FrozenCount: *r.FrozenCount, Memo: r.Memo}
}

type pgtRequest struct {
	Tested     *int   `json:"tested" validate:"required"`
	Euploid    *int   `json:"euploid" validate:"required"`
	Mosaic     *int   `json:"mosaic"`
	Abnormal   *int   `json:"abnormal" validate:"required"`
	ResultDate string `json:"result_date" validate:"required"`
}

func (r pgtRequest) record() domain.PGT {
	return domain.PGT{Tested: *r.Tested, Euploid: *r.Euploid, Mosaic: r.Mosaic, Abnormal: *r.Abnormal, ResultDate: r.ResultDate}
}

type exportRequest struct {
	Formats []string `json:"formats"`
}

// cycleResponse is the aggregate with its derived progress and, on writes,
// the warning the write produced.
type cycleResponse struct {
	domain.CycleAggregate
	Progress domain.Progress `json:"progress"`
	Warning  string          `json:"warning,omitempty"`
}

func newCycleResponse(agg domain.CycleAggregate, res domain.Result) cycleResponse {
	return cycleResponse{CycleAggregate: agg, Progress: agg.Progress(), Warning: res.Warning()}
}
