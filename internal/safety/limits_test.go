package safety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLimitsAreValid(t *testing.T) {
	assert.NoError(t, DefaultLimits().Validate())
}

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Limits)
	}{
		{"zero max trade risk", func(l *Limits) { l.MaxTradeRisk = 0 }},
		{"zero max trade capital", func(l *Limits) { l.MaxTradeCapital = 0 }},
		{"zero daily loss limit", func(l *Limits) { l.DailyLossLimit = 0 }},
		{"zero max trades per day", func(l *Limits) { l.MaxTradesPerDay = 0 }},
		{"concentration above one", func(l *Limits) { l.MaxConcentration = 1.2 }},
		{"zero total exposure", func(l *Limits) { l.MaxTotalExposure = 0 }},
		{"drawdown threshold of one", func(l *Limits) { l.DrawdownThreshold = 1 }},
		{"zero consecutive loss limit", func(l *Limits) { l.ConsecutiveLossLimit = 0 }},
		{"negative min leg price", func(l *Limits) { l.MinLegPrice = -0.01 }},
		{"zero max spread width", func(l *Limits) { l.MaxSpreadWidth = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := DefaultLimits()
			tt.mutate(&limits)
			assert.Error(t, limits.Validate())
		})
	}
}

func TestLoadLimitsFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_trade_risk: 250
daily_loss_limit: 750
max_trades_per_day: 5
`), 0o644))

	limits, err := LoadLimitsFile(path)
	require.NoError(t, err)

	// Overridden fields take the file values; the rest keep defaults.
	assert.Equal(t, 250.0, limits.MaxTradeRisk)
	assert.Equal(t, 750.0, limits.DailyLossLimit)
	assert.Equal(t, 5, limits.MaxTradesPerDay)
	assert.Equal(t, DefaultLimits().MaxConcentration, limits.MaxConcentration)
	assert.Equal(t, DefaultLimits().MinLegPrice, limits.MinLegPrice)
}

func TestLoadLimitsFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_trade_capital": 2500, "max_spread_width": 5}`), 0o644))

	limits, err := LoadLimitsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, limits.MaxTradeCapital)
	assert.Equal(t, 5.0, limits.MaxSpreadWidth)
}

func TestLoadLimitsFileRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_trade_risk: -10\n"), 0o644))

	_, err := LoadLimitsFile(path)
	assert.Error(t, err)
}

func TestLoadLimitsFileMissing(t *testing.T) {
	_, err := LoadLimitsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
