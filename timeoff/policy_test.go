package timeoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	assertDecimal(t, "8", p.Overtime.WeeklyThreshold)
	assertDecimal(t, "1.25", p.Overtime.UnderRate)
	assertDecimal(t, "1.5", p.Overtime.OverRate)
	assertDecimal(t, "2", p.Overtime.SundayRate)
	assertDecimal(t, "2", p.Overtime.NightRate)
	assert.Equal(t, 21, p.Overtime.NightStartHour)
	assert.Equal(t, 6, p.Overtime.NightEndHour)
	assertDecimal(t, "5", p.Leave.HalfDayMaxHours)
	assert.Equal(t, 13, p.Leave.MiddayHour)
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr string
	}{
		{"zero half day", func(p *Policy) { p.Leave.HalfDayMaxHours = dec("0") }, "half-day"},
		{"midday out of range", func(p *Policy) { p.Leave.MiddayHour = 24 }, "midday"},
		{"negative threshold", func(p *Policy) { p.Overtime.WeeklyThreshold = dec("-1") }, "threshold"},
		{"discount rate", func(p *Policy) { p.Overtime.OverRate = dec("0.9") }, "over-threshold rate"},
		{"night hour out of range", func(p *Policy) { p.Overtime.NightEndHour = -1 }, "night window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
