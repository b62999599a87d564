package domain

import "time"

// OpenPosition tracks capital committed to an admitted, not yet closed trade.
type OpenPosition struct {
	TradeID       string    `json:"trade_id"`
	Symbol        string    `json:"symbol"`
	CapitalAtRisk float64   `json:"capital_at_risk"`
	Legs          []Leg     `json:"legs"`
	EntryTime     time.Time `json:"entry_time"`
}

// RiskState is the mutable risk snapshot shared between the trading process
// and the watchdog. It lives in a single file with atomic overwrite; both
// processes re-read it before every decision rather than caching it.
type RiskState struct {
	DailyLoss               float64        `json:"daily_loss"`
	CircuitBreakerTriggered bool           `json:"circuit_breaker_triggered"`
	CircuitBreakerTimestamp *time.Time     `json:"circuit_breaker_timestamp,omitempty"`
	ConsecutiveLosses       int            `json:"consecutive_losses"`
	EmergencyStop           bool           `json:"emergency_stop"`
	OpenTrades              []OpenPosition `json:"open_trades"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// NewRiskState returns the safe default state used when no snapshot exists:
// no loss, no trip, no positions.
func NewRiskState() *RiskState {
	return &RiskState{OpenTrades: []OpenPosition{}}
}

// SymbolExposure sums capital at risk across open positions for one symbol.
func (s *RiskState) SymbolExposure(symbol string) float64 {
	var total float64
	for _, p := range s.OpenTrades {
		if p.Symbol == symbol {
			total += p.CapitalAtRisk
		}
	}
	return total
}

// TotalExposure sums capital at risk across all open positions.
func (s *RiskState) TotalExposure() float64 {
	var total float64
	for _, p := range s.OpenTrades {
		total += p.CapitalAtRisk
	}
	return total
}

// TripBreaker sets the circuit breaker flag. The flag is sticky: it is never
// cleared here, only by an explicit operator reset.
func (s *RiskState) TripBreaker(at time.Time) {
	if s.CircuitBreakerTriggered {
		return
	}
	s.CircuitBreakerTriggered = true
	s.CircuitBreakerTimestamp = &at
	s.UpdatedAt = at
}

// AddPosition records capital committed by a newly submitted trade.
func (s *RiskState) AddPosition(pos OpenPosition) {
	s.OpenTrades = append(s.OpenTrades, pos)
	s.UpdatedAt = pos.EntryTime
}

// RecordClose removes the open position for tradeID and folds its realized
// PnL into the daily loss and consecutive-loss counters. Returns false when
// no open position matches.
func (s *RiskState) RecordClose(tradeID string, pnl float64, at time.Time) bool {
	idx := -1
	for i, p := range s.OpenTrades {
		if p.TradeID == tradeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	s.OpenTrades = append(s.OpenTrades[:idx], s.OpenTrades[idx+1:]...)
	s.DailyLoss += pnl
	if pnl < 0 {
		s.ConsecutiveLosses++
	} else {
		s.ConsecutiveLosses = 0
	}
	s.UpdatedAt = at
	return true
}
