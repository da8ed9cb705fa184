package core

import (
	"context"

	"cyclekeeper/pkg/domain"
)

const ruleTransferCap = "transfer_cap"

// TransferCapRule warns when a transfer exceeds MaxRecommendedTransfer embryos.
func TransferCapRule() domain.Rule {
	return transferCapRule{}
}

type transferCapRule struct{}

func (transferCapRule) Name() string { return ruleTransferCap }

func (transferCapRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityTransfer || change.Action == domain.ActionDelete {
			continue
		}
		if t, ok := change.After.(domain.Transfer); ok {
			res.Merge(ValidateTransferWrite(t))
		}
	}
	return res, nil
}
