package factory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/timeoff"
)

func TestParsePolicy_EmptyDocumentKeepsDefaults(t *testing.T) {
	p, err := NewPolicyFactory().ParsePolicy(`{}`)
	require.NoError(t, err)

	def := timeoff.DefaultPolicy()
	assert.True(t, def.Overtime.WeeklyThreshold.Equal(p.Overtime.WeeklyThreshold))
	assert.True(t, def.Overtime.UnderRate.Equal(p.Overtime.UnderRate))
	assert.Equal(t, 13, p.Leave.MiddayHour)
	assert.Equal(t, 21, p.Overtime.NightStartHour)
}

func TestParsePolicy_OverridesSelectedFields(t *testing.T) {
	p, err := NewPolicyFactory().ParsePolicy(`{
		"name": "night shift agreement",
		"overtime": {"weekly_threshold": 10, "night_rate": "1.75", "night_start_hour": 22}
	}`)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(10).Equal(p.Overtime.WeeklyThreshold))
	assert.True(t, decimal.RequireFromString("1.75").Equal(p.Overtime.NightRate))
	assert.Equal(t, 22, p.Overtime.NightStartHour)
	assert.Equal(t, 6, p.Overtime.NightEndHour, "untouched")
	assert.True(t, decimal.RequireFromString("1.5").Equal(p.Overtime.OverRate), "untouched")

	// The parsed policy drives the calculator.
	m := p.Overtime.Majorate(time.Date(2024, 6, 4, 22, 30, 0, 0, time.UTC), decimal.NewFromInt(2), decimal.Zero)
	assert.True(t, decimal.RequireFromString("3.5").Equal(m.Credit), "got %s", m.Credit)
	assert.Equal(t, "Night (75%)", m.Label)
}

func TestParsePolicy_Rejections(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"overtime": `},
		{"unknown field", `{"overtime": {"weekly_treshold": 8}}`},
		{"rate below one", `{"overtime": {"under_rate": 0.9}}`},
		{"hour out of range", `{"leave": {"midday_hour": 24}}`},
		{"negative threshold", `{"overtime": {"weekly_threshold": -1}}`},
		{"zero half-day", `{"leave": {"half_day_max_hours": 0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicyFactory().ParsePolicy(tt.json)
			assert.Error(t, err)
		})
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewPolicyFactory()
	custom := timeoff.DefaultPolicy()
	custom.Overtime.SundayRate = decimal.RequireFromString("2.5")
	custom.Leave.MiddayHour = 12

	data, err := json.Marshal(f.ToJSON(custom))
	require.NoError(t, err)

	back, err := f.ParsePolicy(string(data))
	require.NoError(t, err)
	assert.True(t, custom.Overtime.SundayRate.Equal(back.Overtime.SundayRate))
	assert.Equal(t, 12, back.Leave.MiddayHour)
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"leave": {"half_day_max_hours": 4}}`), 0o600))

	p, err := NewPolicyFactory().LoadPolicyFile(path)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4).Equal(p.Leave.HalfDayMaxHours))

	_, err = NewPolicyFactory().LoadPolicyFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
