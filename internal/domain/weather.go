package domain

import (
	"fmt"
	"time"
)

// WeatherType is the metric a condition is evaluated against.
type WeatherType string

const (
	WeatherRain    WeatherType = "rain"
	WeatherWind    WeatherType = "wind"
	WeatherTornado WeatherType = "tornado"
	WeatherFlood   WeatherType = "flood"
	WeatherHail    WeatherType = "hail"
)

// Valid reports whether t is a known weather type.
func (t WeatherType) Valid() bool {
	switch t {
	case WeatherRain, WeatherWind, WeatherTornado, WeatherFlood, WeatherHail:
		return true
	}
	return false
}

// Operator is a strict integer comparison.
type Operator string

const (
	OpLessThan    Operator = "lt"
	OpGreaterThan Operator = "gt"
	OpEqual       Operator = "eq"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpLessThan, OpGreaterThan, OpEqual:
		return true
	}
	return false
}

// SubCondition is an optional secondary comparison, e.g. duration on top of intensity.
type SubCondition struct {
	Op        Operator
	Threshold int64
}

// WeatherCondition triggers when the observed aggregate satisfies Op against
// AggregateValue and, if Sub is set, the observed sub value satisfies Sub.
type WeatherCondition struct {
	Type           WeatherType
	Op             Operator
	AggregateValue int64
	Sub            *SubCondition
}

// Validate checks the enumerated fields.
func (c WeatherCondition) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown weather type %q", ErrInvalidCondition, c.Type)
	}
	if !c.Op.Valid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Op)
	}
	if c.Sub != nil && !c.Sub.Op.Valid() {
		return fmt.Errorf("%w: unknown sub operator %q", ErrInvalidCondition, c.Sub.Op)
	}
	return nil
}

// Observation is the oracle reading for one weather type over a window.
type Observation struct {
	Aggregate int64
	Sub       *int64
}

// ObservationQuery asks the oracle for every listed type over one window.
type ObservationQuery struct {
	Location string
	Start    time.Time
	End      time.Time
	Types    []WeatherType
}

// ConditionTypes returns the distinct weather types in first-seen order.
func ConditionTypes(conds []WeatherCondition) []WeatherType {
	seen := make(map[WeatherType]bool, len(conds))
	out := make([]WeatherType, 0, len(conds))
	for _, c := range conds {
		if seen[c.Type] {
			continue
		}
		seen[c.Type] = true
		out = append(out, c.Type)
	}
	return out
}
