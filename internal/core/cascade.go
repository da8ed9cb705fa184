package core

import (
	"fmt"

	"cyclekeeper/pkg/domain"
)

// Advisory and rejection thresholds applied to stage writes.
const (
	// MaxRecommendedTransfer is the display-only cap on embryos per transfer.
	MaxRecommendedTransfer = 3
	// MinPGTCultureDay is the earliest culture day at which PGT results may be recorded.
	MinPGTCultureDay = 5
)

// Messages attached to the violations produced below.
const (
	MsgFertilizedExceedsRetrieved  = "fertilized exceeds retrieved"
	MsgTransferExceedsCap          = "transfer count exceeds recommended cap"
	msgFertilizationNeedsRetrieval = "fertilization requires a retrieval record"
	msgPGTNeedsCulture             = "pgt requires a culture record"
)

// ValidateFertilizationWrite checks a fertilization record against the cycle's
// retrieval. A missing retrieval blocks the write; a fertilized count above the
// retrieved count only warns.
func ValidateFertilizationWrite(view domain.TransactionView, f domain.Fertilization) domain.Result {
	retrieval, ok := view.FindRetrieval(f.CycleID)
	if !ok {
		return single(domain.Violation{
			Rule:     ruleFertilizationPrerequisite,
			Code:     domain.CodeMissingPrerequisite,
			Severity: domain.SeverityBlock,
			Message:  msgFertilizationNeedsRetrieval,
			Entity:   domain.EntityFertilization,
			EntityID: f.ID,
		})
	}
	if msg, warn := fertilizationWarning(&retrieval, f.TotalFertilized); warn {
		return single(domain.Violation{
			Rule:     ruleFertilizationCount,
			Code:     domain.CodeFertilizedExceeds,
			Severity: domain.SeverityWarn,
			Message:  msg,
			Entity:   domain.EntityFertilization,
			EntityID: f.ID,
		})
	}
	return domain.Result{}
}

// ValidateTransferWrite always accepts the transfer and warns above the
// recommended cap. Embryo counts are not consulted.
func ValidateTransferWrite(t domain.Transfer) domain.Result {
	if msg, warn := transferWarning(t.TransferCount); warn {
		return single(domain.Violation{
			Rule:     ruleTransferCap,
			Code:     domain.CodeTransferCountExceeds,
			Severity: domain.SeverityWarn,
			Message:  msg,
			Entity:   domain.EntityTransfer,
			EntityID: t.ID,
		})
	}
	return domain.Result{}
}

// ValidatePGTWrite requires a culture record that has reached MinPGTCultureDay.
func ValidatePGTWrite(view domain.TransactionView, p domain.PGT) domain.Result {
	culture, ok := view.FindCulture(p.CycleID)
	if !ok {
		return single(domain.Violation{
			Rule:     rulePGTStage,
			Code:     domain.CodeMissingPrerequisite,
			Severity: domain.SeverityBlock,
			Message:  msgPGTNeedsCulture,
			Entity:   domain.EntityPGT,
			EntityID: p.ID,
		})
	}
	if culture.Day < MinPGTCultureDay {
		return single(domain.Violation{
			Rule:     rulePGTStage,
			Code:     domain.CodeStageNotReached,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("pgt requires culture day %d or later, culture is at day %d", MinPGTCultureDay, culture.Day),
			Entity:   domain.EntityPGT,
			EntityID: p.ID,
		})
	}
	return domain.Result{}
}

// CheckPlanAlignment flags a transfer, freeze or PGT record written while the
// cycle's culture does not list the matching plan. It never blocks.
func CheckPlanAlignment(view domain.TransactionView, entity domain.EntityType, cycleID, id string) domain.Result {
	plan, governed := domain.PlanFor(entity)
	if !governed {
		return domain.Result{}
	}
	culture, ok := view.FindCulture(cycleID)
	if !ok || culture.NextPlans.Has(plan) {
		return domain.Result{}
	}
	return single(domain.Violation{
		Rule:     rulePlanAlignment,
		Code:     domain.CodeStageWithoutPlan,
		Severity: domain.SeverityLog,
		Message:  fmt.Sprintf("%s recorded while culture plans are [%s]", entity, culture.NextPlans),
		Entity:   entity,
		EntityID: id,
	})
}

// ReconcileCulturePlans deletes the stage records whose plan tags were present
// on the cycle's current culture but are absent from next. It must run inside
// the transaction that writes the new culture, before the write. Running it
// again with the same set removes nothing.
func ReconcileCulturePlans(tx domain.Transaction, cycleID string, next domain.PlanSet) (domain.PlanSet, error) {
	current, ok := tx.Snapshot().FindCulture(cycleID)
	if !ok {
		return nil, nil
	}
	removed := current.NextPlans.Minus(next)
	for _, plan := range removed {
		entity, _ := plan.Entity()
		if _, err := tx.DeleteStage(entity, cycleID); err != nil {
			return nil, fmt.Errorf("cascade %s: %w", plan, err)
		}
	}
	return removed, nil
}

// DeriveWarnings recomputes the advisory warnings of an assembled cycle from
// its current records.
func DeriveWarnings(agg domain.CycleAggregate) []string {
	var out []string
	if agg.Fertilization != nil {
		if msg, warn := fertilizationWarning(agg.Retrieval, agg.Fertilization.TotalFertilized); warn {
			out = append(out, msg)
		}
	}
	if agg.Transfer != nil {
		if msg, warn := transferWarning(agg.Transfer.TransferCount); warn {
			out = append(out, msg)
		}
	}
	return out
}

func fertilizationWarning(retrieval *domain.Retrieval, fertilized int) (string, bool) {
	if retrieval == nil || fertilized <= retrieval.TotalEggs {
		return "", false
	}
	return MsgFertilizedExceedsRetrieved, true
}

func transferWarning(count int) (string, bool) {
	if count <= MaxRecommendedTransfer {
		return "", false
	}
	return MsgTransferExceedsCap, true
}

func single(v domain.Violation) domain.Result {
	return domain.Result{Violations: []domain.Violation{v}}
}
