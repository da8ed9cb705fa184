package domain

import (
	"context"
	"errors"
	"strings"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn is surfaced to the caller but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// ViolationCode classifies a violation so it can be mapped onto the error taxonomy.
type ViolationCode string

// Violation codes emitted by the built-in rules.
const (
	CodeMissingPrerequisite  ViolationCode = "missing_prerequisite"
	CodeStageNotReached      ViolationCode = "stage_not_reached"
	CodeFertilizedExceeds    ViolationCode = "fertilized_exceeds_retrieved"
	CodeTransferCountExceeds ViolationCode = "transfer_count_exceeds_cap"
	CodeStageWithoutPlan     ViolationCode = "stage_without_plan"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string        `json:"rule"`
	Code     ViolationCode `json:"code"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
	Entity   EntityType    `json:"entity"`
	EntityID string        `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the messages of warn-severity violations in evaluation order.
func (r Result) Warnings() []string {
	var out []string
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v.Message)
		}
	}
	return out
}

// Warning joins all warnings into the single advisory string attached to a write.
func (r Result) Warning() string {
	return strings.Join(r.Warnings(), "; ")
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// Is maps blocking violation codes onto the sentinel taxonomy.
func (e RuleViolationError) Is(target error) bool {
	for _, v := range e.Result.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		switch v.Code {
		case CodeMissingPrerequisite:
			if errors.Is(target, ErrMissingPrerequisite) {
				return true
			}
		case CodeStageNotReached:
			if errors.Is(target, ErrStageNotReached) {
				return true
			}
		}
	}
	return false
}

// RuleView provides read-only access to domain records for rule evaluation.
type RuleView = TransactionView

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in registration order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
