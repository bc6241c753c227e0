package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

func ptr(v int64) *int64 { return &v }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		cond     domain.WeatherCondition
		observed int64
		sub      *int64
		want     bool
	}{
		{"gt true", domain.WeatherCondition{Type: domain.WeatherRain, Op: domain.OpGreaterThan, AggregateValue: 50}, 60, nil, true},
		{"gt boundary", domain.WeatherCondition{Type: domain.WeatherRain, Op: domain.OpGreaterThan, AggregateValue: 50}, 50, nil, false},
		{"lt true", domain.WeatherCondition{Type: domain.WeatherWind, Op: domain.OpLessThan, AggregateValue: 10}, 9, nil, true},
		{"lt boundary", domain.WeatherCondition{Type: domain.WeatherWind, Op: domain.OpLessThan, AggregateValue: 10}, 10, nil, false},
		{"eq exact", domain.WeatherCondition{Type: domain.WeatherHail, Op: domain.OpEqual, AggregateValue: 3}, 3, nil, true},
		{"eq off by one", domain.WeatherCondition{Type: domain.WeatherHail, Op: domain.OpEqual, AggregateValue: 3}, 4, nil, false},
		{"negative values", domain.WeatherCondition{Type: domain.WeatherFlood, Op: domain.OpLessThan, AggregateValue: -5}, -6, nil, true},
		{"unknown op", domain.WeatherCondition{Type: domain.WeatherRain, Op: "ge", AggregateValue: 1}, 2, nil, false},
		{
			"sub holds",
			domain.WeatherCondition{Type: domain.WeatherWind, Op: domain.OpGreaterThan, AggregateValue: 20, Sub: &domain.SubCondition{Op: domain.OpGreaterThan, Threshold: 3}},
			25, ptr(4), true,
		},
		{
			"sub fails",
			domain.WeatherCondition{Type: domain.WeatherWind, Op: domain.OpGreaterThan, AggregateValue: 20, Sub: &domain.SubCondition{Op: domain.OpGreaterThan, Threshold: 3}},
			25, ptr(3), false,
		},
		{
			"sub missing observation",
			domain.WeatherCondition{Type: domain.WeatherWind, Op: domain.OpGreaterThan, AggregateValue: 20, Sub: &domain.SubCondition{Op: domain.OpGreaterThan, Threshold: 3}},
			25, nil, false,
		},
		{
			// A zero threshold with Equal is a real comparison, not "unset".
			"sub eq zero is evaluated",
			domain.WeatherCondition{Type: domain.WeatherTornado, Op: domain.OpGreaterThan, AggregateValue: 0, Sub: &domain.SubCondition{Op: domain.OpEqual, Threshold: 0}},
			1, ptr(5), false,
		},
		{
			"primary fails short-circuits",
			domain.WeatherCondition{Type: domain.WeatherWind, Op: domain.OpGreaterThan, AggregateValue: 20, Sub: &domain.SubCondition{Op: domain.OpGreaterThan, Threshold: 3}},
			10, ptr(9), false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, tt.observed, tt.sub))
		})
	}
}

func TestEvaluateAll(t *testing.T) {
	conds := []domain.WeatherCondition{
		{Type: domain.WeatherRain, Op: domain.OpGreaterThan, AggregateValue: 50},
		{Type: domain.WeatherWind, Op: domain.OpLessThan, AggregateValue: 30},
	}

	assert.True(t, EvaluateAll(conds, map[domain.WeatherType]domain.Observation{
		domain.WeatherRain: {Aggregate: 60},
		domain.WeatherWind: {Aggregate: 10},
	}))
	assert.False(t, EvaluateAll(conds, map[domain.WeatherType]domain.Observation{
		domain.WeatherRain: {Aggregate: 60},
		domain.WeatherWind: {Aggregate: 40},
	}), "one false condition blocks the trigger")
	assert.False(t, EvaluateAll(conds, map[domain.WeatherType]domain.Observation{
		domain.WeatherRain: {Aggregate: 60},
	}), "missing observation fails")
	assert.False(t, EvaluateAll(nil, nil))
}
