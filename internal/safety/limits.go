package safety

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Limits holds the immutable safety configuration. It is loaded once at
// validator construction and never mutated at runtime.
type Limits struct {
	MaxTradeRisk         float64 `json:"max_trade_risk" yaml:"max_trade_risk"`
	MaxTradeCapital      float64 `json:"max_trade_capital" yaml:"max_trade_capital"`
	DailyLossLimit       float64 `json:"daily_loss_limit" yaml:"daily_loss_limit"`
	MaxTradesPerDay      int     `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MaxConcentration     float64 `json:"max_concentration" yaml:"max_concentration"`
	MaxTotalExposure     float64 `json:"max_total_exposure" yaml:"max_total_exposure"`
	DrawdownThreshold    float64 `json:"drawdown_threshold" yaml:"drawdown_threshold"`
	ConsecutiveLossLimit int     `json:"consecutive_loss_limit" yaml:"consecutive_loss_limit"`
	MinLegPrice          float64 `json:"min_leg_price" yaml:"min_leg_price"`
	MaxSpreadWidth       float64 `json:"max_spread_width" yaml:"max_spread_width"`

	// DisableBreakerCheck skips the circuit-breaker admission check. It
	// exists for test harnesses only; every submission made while it is
	// set is logged with the flag so the bypass stays auditable.
	DisableBreakerCheck bool `json:"disable_breaker_check" yaml:"disable_breaker_check"`
}

// DefaultLimits returns conservative defaults suitable for a small account.
func DefaultLimits() Limits {
	return Limits{
		MaxTradeRisk:         500,
		MaxTradeCapital:      5000,
		DailyLossLimit:       1000,
		MaxTradesPerDay:      10,
		MaxConcentration:     0.30,
		MaxTotalExposure:     10000,
		DrawdownThreshold:    0.10,
		ConsecutiveLossLimit: 3,
		MinLegPrice:          0.05,
		MaxSpreadWidth:       10,
	}
}

// Validate checks internal consistency of the limits.
func (l Limits) Validate() error {
	if l.MaxTradeRisk <= 0 {
		return fmt.Errorf("max_trade_risk must be positive, got %v", l.MaxTradeRisk)
	}
	if l.MaxTradeCapital <= 0 {
		return fmt.Errorf("max_trade_capital must be positive, got %v", l.MaxTradeCapital)
	}
	if l.DailyLossLimit <= 0 {
		return fmt.Errorf("daily_loss_limit must be positive, got %v", l.DailyLossLimit)
	}
	if l.MaxTradesPerDay <= 0 {
		return fmt.Errorf("max_trades_per_day must be positive, got %d", l.MaxTradesPerDay)
	}
	if l.MaxConcentration <= 0 || l.MaxConcentration > 1 {
		return fmt.Errorf("max_concentration must be in (0, 1], got %v", l.MaxConcentration)
	}
	if l.MaxTotalExposure <= 0 {
		return fmt.Errorf("max_total_exposure must be positive, got %v", l.MaxTotalExposure)
	}
	if l.DrawdownThreshold <= 0 || l.DrawdownThreshold >= 1 {
		return fmt.Errorf("drawdown_threshold must be in (0, 1), got %v", l.DrawdownThreshold)
	}
	if l.ConsecutiveLossLimit <= 0 {
		return fmt.Errorf("consecutive_loss_limit must be positive, got %d", l.ConsecutiveLossLimit)
	}
	if l.MinLegPrice < 0 {
		return fmt.Errorf("min_leg_price cannot be negative, got %v", l.MinLegPrice)
	}
	if l.MaxSpreadWidth <= 0 {
		return fmt.Errorf("max_spread_width must be positive, got %v", l.MaxSpreadWidth)
	}
	return nil
}

// LoadLimitsFile loads limits from a YAML or JSON file.
func LoadLimitsFile(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("read limits file: %w", err)
	}

	limits := DefaultLimits()
	if yamlErr := yaml.Unmarshal(data, &limits); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, &limits); jsonErr != nil {
			return Limits{}, fmt.Errorf("parse limits file (tried YAML and JSON): %w", yamlErr)
		}
	}
	if err := limits.Validate(); err != nil {
		return Limits{}, fmt.Errorf("limits file %s: %w", path, err)
	}
	return limits, nil
}
