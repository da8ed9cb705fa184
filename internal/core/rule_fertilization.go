package core

import (
	"context"

	"cyclekeeper/pkg/domain"
)

const (
	ruleFertilizationPrerequisite = "fertilization_prerequisite"
	ruleFertilizationCount        = "fertilization_count"
)

// FertilizationPrerequisiteRule blocks fertilization writes on cycles without a
// retrieval and warns when more eggs are fertilized than were retrieved.
func FertilizationPrerequisiteRule() domain.Rule {
	return fertilizationRule{}
}

type fertilizationRule struct{}

func (fertilizationRule) Name() string { return ruleFertilizationPrerequisite }

func (fertilizationRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityFertilization || change.Action == domain.ActionDelete {
			continue
		}
		f, ok := change.After.(domain.Fertilization)
		if !ok {
			continue
		}
		res.Merge(ValidateFertilizationWrite(view, f))
	}
	return res, nil
}
