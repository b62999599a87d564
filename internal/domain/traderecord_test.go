package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeStatusMachine(t *testing.T) {
	legal := []struct {
		from, to TradeStatus
	}{
		{StatusRequested, StatusRejected},
		{StatusRequested, StatusPending},
		{StatusPending, StatusSubmitted},
		{StatusPending, StatusFailed},
		{StatusSubmitted, StatusFilled},
		{StatusSubmitted, StatusFailed},
		{StatusFilled, StatusClosed},
	}
	for _, tr := range legal {
		assert.True(t, tr.from.CanTransitionTo(tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}

	illegal := []struct {
		from, to TradeStatus
	}{
		{StatusRequested, StatusSubmitted},
		{StatusRequested, StatusFilled},
		{StatusRejected, StatusPending},
		{StatusPending, StatusFilled},
		{StatusPending, StatusClosed},
		{StatusSubmitted, StatusClosed},
		{StatusFilled, StatusFailed},
		{StatusFailed, StatusSubmitted},
		{StatusClosed, StatusFilled},
	}
	for _, tr := range illegal {
		assert.False(t, tr.from.CanTransitionTo(tr.to), "%s -> %s should be illegal", tr.from, tr.to)
	}
}

func TestTradeStatusTerminal(t *testing.T) {
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusClosed.IsTerminal())
	assert.False(t, StatusRequested.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusSubmitted.IsTerminal())
	assert.False(t, StatusFilled.IsTerminal())
}

func TestTradeRecordTransition(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	rec := NewTradeRecord("t-1", Order{Symbol: "SPY"}, now)
	assert.Equal(t, StatusRequested, rec.Status)

	later := now.Add(time.Second)
	require.NoError(t, rec.Transition(StatusPending, later))
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, later, rec.UpdatedAt)

	// An illegal transition leaves the record unchanged.
	err := rec.Transition(StatusClosed, later.Add(time.Second))
	require.Error(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, later, rec.UpdatedAt)
}

func TestRiskStateExposure(t *testing.T) {
	now := time.Now().UTC()
	state := NewRiskState()
	state.AddPosition(OpenPosition{TradeID: "a", Symbol: "SPY", CapitalAtRisk: 3000, EntryTime: now})
	state.AddPosition(OpenPosition{TradeID: "b", Symbol: "QQQ", CapitalAtRisk: 1500, EntryTime: now})
	state.AddPosition(OpenPosition{TradeID: "c", Symbol: "SPY", CapitalAtRisk: 500, EntryTime: now})

	assert.Equal(t, 3500.0, state.SymbolExposure("SPY"))
	assert.Equal(t, 1500.0, state.SymbolExposure("QQQ"))
	assert.Zero(t, state.SymbolExposure("IWM"))
	assert.Equal(t, 5000.0, state.TotalExposure())
}

func TestRiskStateRecordClose(t *testing.T) {
	now := time.Now().UTC()
	state := NewRiskState()
	state.AddPosition(OpenPosition{TradeID: "a", Symbol: "SPY", CapitalAtRisk: 3000, EntryTime: now})
	state.AddPosition(OpenPosition{TradeID: "b", Symbol: "QQQ", CapitalAtRisk: 1500, EntryTime: now})

	// A losing close removes the position and bumps the loss counters.
	assert.True(t, state.RecordClose("a", -250, now))
	assert.Equal(t, -250.0, state.DailyLoss)
	assert.Equal(t, 1, state.ConsecutiveLosses)
	assert.Equal(t, 1500.0, state.TotalExposure())

	// A winning close resets the consecutive-loss streak.
	assert.True(t, state.RecordClose("b", 100, now))
	assert.Equal(t, -150.0, state.DailyLoss)
	assert.Zero(t, state.ConsecutiveLosses)
	assert.Empty(t, state.OpenTrades)

	// Unknown trade ids report false without mutating anything.
	assert.False(t, state.RecordClose("ghost", -50, now))
	assert.Equal(t, -150.0, state.DailyLoss)
}

func TestTripBreakerIsSticky(t *testing.T) {
	first := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	state := NewRiskState()

	state.TripBreaker(first)
	require.True(t, state.CircuitBreakerTriggered)
	require.NotNil(t, state.CircuitBreakerTimestamp)

	// A second trip keeps the original timestamp.
	state.TripBreaker(first.Add(time.Hour))
	assert.Equal(t, first, *state.CircuitBreakerTimestamp)
}
