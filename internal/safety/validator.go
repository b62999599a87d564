// Package safety implements the order admission policy engine and the
// drawdown circuit breaker.
package safety

import (
	"fmt"
	"math"

	"capguard/internal/domain"
)

// Rejection codes, in check-priority order. The first failing check
// short-circuits, so callers can trust the first reported reason.
const (
	CodeEmergencyStop     = "EMERGENCY_STOP"
	CodeCircuitBreaker    = "CIRCUIT_BREAKER"
	CodeMaxTradeRisk      = "MAX_TRADE_RISK"
	CodeMaxTradeCapital   = "MAX_TRADE_CAPITAL"
	CodeDailyLoss         = "DAILY_LOSS_LIMIT"
	CodeConsecutiveLosses = "CONSECUTIVE_LOSSES"
	CodeConcentration     = "CONCENTRATION"
	CodeLegPrice          = "LEG_PRICE"
	CodeSpreadWidth       = "SPREAD_WIDTH"
	CodeLegAction         = "LEG_ACTION"
	CodeLegQuantity       = "LEG_QUANTITY"
	CodeMaxTradesPerDay   = "MAX_TRADES_PER_DAY"
)

// Verdict is the outcome of one admission decision.
type Verdict struct {
	Admitted bool
	Code     string
	Reason   string
}

func admit() Verdict {
	return Verdict{Admitted: true}
}

func reject(code, format string, args ...interface{}) Verdict {
	return Verdict{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Validator is the pure policy engine. It holds only immutable limits, never
// mutates anything, and is safe to call concurrently as long as each call
// gets its own risk-state snapshot.
type Validator struct {
	limits Limits
}

// NewValidator creates a validator for the given limits.
func NewValidator(limits Limits) (*Validator, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety limits: %w", err)
	}
	return &Validator{limits: limits}, nil
}

// Limits returns the immutable limit set the validator was built with.
func (v *Validator) Limits() Limits {
	return v.limits
}

// Validate evaluates the admission checks in strict priority order and
// short-circuits on the first failure.
func (v *Validator) Validate(order *domain.Order, state *domain.RiskState) Verdict {
	l := v.limits

	// 1. Emergency stop dominates everything else.
	if state.EmergencyStop {
		return reject(CodeEmergencyStop, "emergency stop active")
	}

	// 2. Circuit breaker is sticky until an operator resets it. The
	// disable flag is a test-harness escape hatch, never a silent bypass:
	// the gate logs every submission made while it is set.
	if state.CircuitBreakerTriggered && !l.DisableBreakerCheck {
		if ts := state.CircuitBreakerTimestamp; ts != nil {
			return reject(CodeCircuitBreaker, "circuit breaker active since %s", ts.UTC().Format("2006-01-02T15:04:05Z"))
		}
		return reject(CodeCircuitBreaker, "circuit breaker active")
	}

	// 3. Per-trade risk cap.
	if order.MaxRisk > l.MaxTradeRisk {
		return reject(CodeMaxTradeRisk, "trade risk %.2f exceeds maximum allowed %.2f", order.MaxRisk, l.MaxTradeRisk)
	}

	// 4. Per-trade capital cap.
	if order.CapitalRequired > l.MaxTradeCapital {
		return reject(CodeMaxTradeCapital, "capital required %.2f exceeds maximum allowed %.2f", order.CapitalRequired, l.MaxTradeCapital)
	}

	// 5. Daily loss limit.
	if math.Abs(state.DailyLoss) >= l.DailyLossLimit {
		return reject(CodeDailyLoss, "daily loss %.2f has reached the daily loss limit %.2f", state.DailyLoss, l.DailyLossLimit)
	}

	// 6. Consecutive-loss limit.
	if state.ConsecutiveLosses >= l.ConsecutiveLossLimit {
		return reject(CodeConsecutiveLosses, "%d consecutive losses reached limit %d", state.ConsecutiveLosses, l.ConsecutiveLossLimit)
	}

	// 7. Single-symbol concentration against the configured exposure basis.
	exposure := state.SymbolExposure(order.Symbol) + order.CapitalRequired
	fraction := exposure / l.MaxTotalExposure
	if fraction > l.MaxConcentration {
		return reject(CodeConcentration, "symbol %s concentration %.0f%% exceeds maximum %.0f%%",
			order.Symbol, fraction*100, l.MaxConcentration*100)
	}

	// 8. Per-leg checks; the first failing leg produces the reason.
	for i, leg := range order.Legs {
		if !leg.Action.IsValid() {
			return reject(CodeLegAction, "leg %d has invalid action %q", i, leg.Action)
		}
		if leg.Quantity <= 0 {
			return reject(CodeLegQuantity, "leg %d quantity must be positive, got %d", i, leg.Quantity)
		}
		if leg.Price < 0 {
			return reject(CodeLegPrice, "leg %d price cannot be negative, got %.2f", i, leg.Price)
		}
		if leg.Price < l.MinLegPrice {
			return reject(CodeLegPrice, "leg %d price %.2f below minimum %.2f", i, leg.Price, l.MinLegPrice)
		}
		if leg.SpreadWidth != nil && *leg.SpreadWidth > l.MaxSpreadWidth {
			return reject(CodeSpreadWidth, "leg %d spread width %.2f exceeds maximum %.2f", i, *leg.SpreadWidth, l.MaxSpreadWidth)
		}
	}

	return admit()
}
