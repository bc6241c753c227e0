// Package condition evaluates weather conditions against oracle observations.
package condition

import "github.com/alanyoungcy/weathercover/internal/domain"

// Evaluate reports whether an observation satisfies cond. The primary check is
// observed <op> AggregateValue. A present sub-condition is ANDed in; when the
// oracle reported no sub value the sub-condition cannot hold.
func Evaluate(cond domain.WeatherCondition, observed int64, observedSub *int64) bool {
	if !compare(cond.Op, observed, cond.AggregateValue) {
		return false
	}
	if cond.Sub == nil {
		return true
	}
	if observedSub == nil {
		return false
	}
	return compare(cond.Sub.Op, *observedSub, cond.Sub.Threshold)
}

// EvaluateAll applies Evaluate to every condition and requires all to hold.
// A condition whose weather type is missing from obs fails.
func EvaluateAll(conds []domain.WeatherCondition, obs map[domain.WeatherType]domain.Observation) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		o, ok := obs[c.Type]
		if !ok {
			return false
		}
		if !Evaluate(c, o.Aggregate, o.Sub) {
			return false
		}
	}
	return true
}

func compare(op domain.Operator, observed, target int64) bool {
	switch op {
	case domain.OpLessThan:
		return observed < target
	case domain.OpGreaterThan:
		return observed > target
	case domain.OpEqual:
		return observed == target
	default:
		return false
	}
}
