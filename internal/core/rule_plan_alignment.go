package core

import (
	"context"

	"cyclekeeper/pkg/domain"
)

const rulePlanAlignment = "plan_alignment"

// PlanAlignmentRule records a log-level violation when a transfer, freeze or
// PGT record is written for a plan the culture does not select.
func PlanAlignmentRule() domain.Rule {
	return planAlignmentRule{}
}

type planAlignmentRule struct{}

func (planAlignmentRule) Name() string { return rulePlanAlignment }

func (planAlignmentRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Action == domain.ActionDelete {
			continue
		}
		var id, cycleID string
		switch rec := change.After.(type) {
		case domain.Transfer:
			id, cycleID = rec.ID, rec.CycleID
		case domain.Freeze:
			id, cycleID = rec.ID, rec.CycleID
		case domain.PGT:
			id, cycleID = rec.ID, rec.CycleID
		default:
			continue
		}
		res.Merge(CheckPlanAlignment(view, change.Entity, cycleID, id))
	}
	return res, nil
}
