package core

import "cyclekeeper/pkg/domain"

// NewDefaultRulesEngine returns an engine with the built-in consistency rules
// registered in evaluation order.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(FertilizationPrerequisiteRule())
	engine.Register(TransferCapRule())
	engine.Register(PGTStageRule())
	engine.Register(PlanAlignmentRule())
	return engine
}
