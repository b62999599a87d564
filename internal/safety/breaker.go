package safety

import (
	"context"
	"fmt"
	"time"

	"capguard/internal/domain"
	"capguard/internal/id"
	"capguard/internal/ports"
)

// Breaker trips the circuit breaker on account-level drawdown. Drawdown is
// an account signal, not an order signal, so the watchdog drives this rather
// than the per-order validator.
type Breaker struct {
	threshold float64
	store     ports.RiskStateStore
	events    ports.SafetyEventRepository
	logger    ports.Logger
}

// NewBreaker creates a drawdown breaker with the given trip threshold.
func NewBreaker(threshold float64, store ports.RiskStateStore, events ports.SafetyEventRepository, logger ports.Logger) (*Breaker, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("drawdown threshold must be in (0, 1), got %v", threshold)
	}
	if store == nil || events == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Breaker")
	}
	return &Breaker{threshold: threshold, store: store, events: events, logger: logger}, nil
}

// Drawdown returns the fractional loss of current relative to initial.
// A non-positive initial value yields zero.
func Drawdown(current, initial float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (initial - current) / initial
}

// CheckDrawdown compares current account value to the recorded baseline and
// trips the breaker when the drawdown meets the threshold. The trip persists
// the flag with its timestamp and appends exactly one CIRCUIT_BREAKER event;
// re-checking an already-tripped breaker is a no-op.
func (b *Breaker) CheckDrawdown(ctx context.Context, current, initial float64) (bool, error) {
	dd := Drawdown(current, initial)
	if dd < b.threshold {
		return false, nil
	}

	state, err := b.store.Load(ctx)
	if err != nil {
		return true, fmt.Errorf("load risk state: %w", err)
	}
	if state.CircuitBreakerTriggered {
		// Sticky: already tripped, nothing more to record.
		return true, nil
	}

	now := time.Now().UTC()
	state.TripBreaker(now)
	if err := b.store.Save(ctx, state); err != nil {
		return true, fmt.Errorf("persist circuit breaker trip: %w", err)
	}

	ev := &domain.SafetyEvent{
		EventID:   id.New(),
		Timestamp: now,
		Type:      domain.EventCircuitBreaker,
		Details: map[string]interface{}{
			"drawdown":      dd,
			"current_value": current,
			"initial_value": initial,
			"threshold":     b.threshold,
		},
		ActionTaken: "circuit breaker tripped on drawdown",
	}
	if err := b.events.Append(ctx, ev); err != nil {
		b.logger.Error(ctx, err, "Failed to append circuit breaker event", map[string]interface{}{"drawdown": dd})
	}

	b.logger.Warn(ctx, "Circuit breaker tripped on drawdown", map[string]interface{}{
		"drawdown":      dd,
		"current_value": current,
		"initial_value": initial,
		"threshold":     b.threshold,
	})
	return true, nil
}
