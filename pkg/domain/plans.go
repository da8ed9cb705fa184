package domain

import (
	"sort"
	"strings"
)

// NextPlan tags a stage the owner intends to pursue after culture.
type NextPlan string

// Canonical next plans selectable on a culture record.
const (
	PlanTransfer NextPlan = "transfer"
	PlanFreeze   NextPlan = "freeze"
	PlanPGT      NextPlan = "pgt"
)

var planEntities = map[NextPlan]EntityType{
	PlanTransfer: EntityTransfer,
	PlanFreeze:   EntityFreeze,
	PlanPGT:      EntityPGT,
}

// Valid reports whether the plan is one of the canonical tags.
func (p NextPlan) Valid() bool {
	_, ok := planEntities[p]
	return ok
}

// Entity returns the stage record type governed by the plan.
func (p NextPlan) Entity() (EntityType, bool) {
	e, ok := planEntities[p]
	return e, ok
}

// PlanFor returns the plan tag governing the given stage record type.
func PlanFor(entity EntityType) (NextPlan, bool) {
	for plan, e := range planEntities {
		if e == entity {
			return plan, true
		}
	}
	return "", false
}

// PlanSet is an unordered set of next plans. Normalize returns the canonical
// sorted, duplicate-free form used for storage and comparison.
type PlanSet []NextPlan

// NewPlanSet builds a normalized set from the provided tags.
func NewPlanSet(plans ...NextPlan) PlanSet {
	return PlanSet(plans).Normalize()
}

// Normalize sorts the set and drops duplicates. A nil or empty input yields nil.
func (s PlanSet) Normalize() PlanSet {
	if len(s) == 0 {
		return nil
	}
	seen := make(map[NextPlan]struct{}, len(s))
	out := make(PlanSet, 0, len(s))
	for _, p := range s {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether the set contains plan.
func (s PlanSet) Has(plan NextPlan) bool {
	for _, p := range s {
		if p == plan {
			return true
		}
	}
	return false
}

// Minus returns the tags present in s but absent from other.
func (s PlanSet) Minus(other PlanSet) PlanSet {
	var out PlanSet
	for _, p := range s {
		if !other.Has(p) {
			out = append(out, p)
		}
	}
	return out.Normalize()
}

func (s PlanSet) String() string {
	parts := make([]string, 0, len(s))
	for _, p := range s.Normalize() {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ",")
}
