package domain

import (
	"fmt"
	"time"
)

// TradeRecord is the durable audit record for one submission attempt.
// The execution gate creates it (REQUESTED/REJECTED/PENDING); the broker
// collaborator advances it (SUBMITTED/FILLED/FAILED); position-close
// handling closes it (CLOSED).
type TradeRecord struct {
	TradeID       string      `json:"trade_id"`
	Order         Order       `json:"order"`
	Status        TradeStatus `json:"status"`
	RejectReason  string      `json:"reject_reason,omitempty"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	FillPrice     float64     `json:"fill_price,omitempty"`
	RealizedPnL   float64     `json:"realized_pnl,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewTradeRecord builds a record in REQUESTED state for the given order.
func NewTradeRecord(tradeID string, order Order, now time.Time) *TradeRecord {
	return &TradeRecord{
		TradeID:   tradeID,
		Order:     order,
		Status:    StatusRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the record to the next status, enforcing the status
// machine. It never mutates the record on an illegal transition.
func (t *TradeRecord) Transition(next TradeStatus, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal trade status transition %s -> %s for trade %s", t.Status, next, t.TradeID)
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// OrderResult is returned to the caller of the execution gate.
type OrderResult struct {
	Success       bool   `json:"success"`
	TradeID       string `json:"trade_id,omitempty"`
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}
