package core

import (
	"context"

	"cyclekeeper/pkg/domain"
)

const rulePGTStage = "pgt_stage"

// PGTStageRule blocks PGT writes until the cycle's culture reaches day five.
func PGTStageRule() domain.Rule {
	return pgtStageRule{}
}

type pgtStageRule struct{}

func (pgtStageRule) Name() string { return rulePGTStage }

func (pgtStageRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityPGT || change.Action == domain.ActionDelete {
			continue
		}
		if p, ok := change.After.(domain.PGT); ok {
			res.Merge(ValidatePGTWrite(view, p))
		}
	}
	return res, nil
}
