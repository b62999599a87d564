// Package execution implements the execution gate, the single legal path
// between a proposed order and the broker.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"capguard/internal/adapters/metrics"
	"capguard/internal/domain"
	"capguard/internal/id"
	"capguard/internal/ports"
	"capguard/internal/safety"
)

const (
	// CodeMalformed marks structural rejections, which never reach the
	// safety validator and are a distinct category from policy rejections.
	CodeMalformed = "MALFORMED"

	maxSubmitAttempts = 3
)

// Config holds the gate's constructor-injected dependencies.
type Config struct {
	Validator *safety.Validator
	States    ports.RiskStateStore
	Trades    ports.TradeRepository
	Events    ports.SafetyEventRepository
	Broker    ports.BrokerClient
	Logger    ports.Logger
}

// Gate validates, records and forwards orders. Every submission reloads the
// risk state from durable storage, invokes the safety validator, and
// persists its trade record before any broker call. There is no other
// exported path to the broker-submission collaborator.
type Gate struct {
	validator *safety.Validator
	states    ports.RiskStateStore
	trades    ports.TradeRepository
	events    ports.SafetyEventRepository
	broker    ports.BrokerClient
	logger    ports.Logger

	// mu serializes in-process submissions around the load-modify-save of
	// the risk state. Cross-process consistency comes from the store's
	// atomic writes.
	mu sync.Mutex
}

// NewGate creates an execution gate.
func NewGate(cfg Config) (*Gate, error) {
	if cfg.Validator == nil || cfg.States == nil || cfg.Trades == nil ||
		cfg.Events == nil || cfg.Broker == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Gate")
	}
	return &Gate{
		validator: cfg.Validator,
		states:    cfg.States,
		trades:    cfg.Trades,
		events:    cfg.Events,
		broker:    cfg.Broker,
		logger:    cfg.Logger,
	}, nil
}

// Submit runs the admission sequence for one order.
//
// Policy and structural rejections come back as a failed OrderResult with a
// nil error. A non-nil error means the gate could not even evaluate the
// order (risk state or journal unavailable); per the fail-closed rule the
// order is NOT submitted in that case.
func (g *Gate) Submit(ctx context.Context, order *domain.Order) (*domain.OrderResult, error) {
	// Structural validation happens before anything else; malformed input
	// never reaches the safety validator.
	if err := order.Validate(); err != nil {
		return g.rejectMalformed(ctx, order, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Reload the snapshot from durable storage; the watchdog may have
	// tripped the breaker since our last read.
	state, err := g.states.Load(ctx)
	if err != nil {
		g.logger.Error(ctx, err, "Risk state unavailable, failing closed", map[string]interface{}{"symbol": order.Symbol})
		return nil, fmt.Errorf("submit %s: %w", order.Symbol, err)
	}

	if g.validator.Limits().DisableBreakerCheck && state.CircuitBreakerTriggered {
		g.logger.Warn(ctx, "Circuit breaker check is DISABLED by configuration while breaker is tripped", map[string]interface{}{
			"symbol": order.Symbol,
		})
	}

	tradesToday, err := g.trades.CountToday(ctx)
	if err != nil {
		g.logger.Error(ctx, err, "Trade journal unavailable, failing closed")
		return nil, fmt.Errorf("count today's trades: %w", err)
	}
	if limit := g.validator.Limits().MaxTradesPerDay; tradesToday >= limit {
		verdict := safety.Verdict{
			Code:   safety.CodeMaxTradesPerDay,
			Reason: fmt.Sprintf("%d trades today reached the daily limit %d", tradesToday, limit),
		}
		return g.rejectPolicy(ctx, order, verdict)
	}

	verdict := g.validator.Validate(order, state)
	if !verdict.Admitted {
		return g.rejectPolicy(ctx, order, verdict)
	}

	return g.submitAdmitted(ctx, order, state)
}

// rejectMalformed persists a REJECTED record for the attempt and returns the
// structural failure without touching the validator or the broker.
func (g *Gate) rejectMalformed(ctx context.Context, order *domain.Order, cause error) (*domain.OrderResult, error) {
	reason := fmt.Sprintf("%v: %v", ports.ErrMalformedOrder, cause)
	g.logger.Warn(ctx, "Order failed structural validation", map[string]interface{}{"reason": cause.Error()})
	metrics.OrderRejected(CodeMalformed)

	result := &domain.OrderResult{Error: reason, Message: "order rejected before policy evaluation"}
	if order == nil {
		return result, nil
	}

	now := time.Now().UTC()
	rec := domain.NewTradeRecord(id.New(), *order, now)
	if err := rec.Transition(domain.StatusRejected, now); err != nil {
		return nil, err
	}
	rec.RejectReason = reason
	if err := g.trades.Create(ctx, rec); err != nil {
		g.logger.Error(ctx, err, "Failed to persist rejected trade record", map[string]interface{}{"tradeID": rec.TradeID})
		return nil, fmt.Errorf("persist rejection for %s: %w", order.Symbol, err)
	}
	g.appendEvent(ctx, domain.EventOrderRejected, map[string]interface{}{
		"trade_id": rec.TradeID,
		"symbol":   order.Symbol,
		"strategy": order.Strategy,
		"code":     CodeMalformed,
		"reason":   cause.Error(),
	}, "order rejected: structural validation failed")

	result.TradeID = rec.TradeID
	return result, nil
}

// rejectPolicy persists the REJECTED record and the ORDER_REJECTED event
// before returning, so every rejection is auditable even across a crash.
func (g *Gate) rejectPolicy(ctx context.Context, order *domain.Order, verdict safety.Verdict) (*domain.OrderResult, error) {
	now := time.Now().UTC()
	rec := domain.NewTradeRecord(id.New(), *order, now)
	if err := rec.Transition(domain.StatusRejected, now); err != nil {
		return nil, err
	}
	rec.RejectReason = verdict.Reason

	if err := g.trades.Create(ctx, rec); err != nil {
		g.logger.Error(ctx, err, "Failed to persist rejected trade record", map[string]interface{}{"tradeID": rec.TradeID})
		return nil, fmt.Errorf("persist rejection for %s: %w", order.Symbol, err)
	}
	g.appendEvent(ctx, domain.EventOrderRejected, map[string]interface{}{
		"trade_id": rec.TradeID,
		"symbol":   order.Symbol,
		"strategy": order.Strategy,
		"code":     verdict.Code,
		"reason":   verdict.Reason,
	}, "order rejected by safety validator")

	metrics.OrderRejected(verdict.Code)
	g.logger.Info(ctx, "Order rejected", map[string]interface{}{
		"tradeID": rec.TradeID,
		"symbol":  order.Symbol,
		"code":    verdict.Code,
		"reason":  verdict.Reason,
	})
	return &domain.OrderResult{
		TradeID: rec.TradeID,
		Error:   verdict.Reason,
		Message: "order rejected by safety validator",
	}, nil
}

// submitAdmitted persists the PENDING record, forwards to the broker and
// advances the record to SUBMITTED or FAILED.
func (g *Gate) submitAdmitted(ctx context.Context, order *domain.Order, state *domain.RiskState) (*domain.OrderResult, error) {
	now := time.Now().UTC()
	rec := domain.NewTradeRecord(id.New(), *order, now)
	if err := rec.Transition(domain.StatusPending, now); err != nil {
		return nil, err
	}
	rec.ClientOrderID = uuid.NewString()

	// PENDING must be durable before the broker sees the order, so a crash
	// between validation and submission still leaves an auditable record.
	if err := g.trades.Create(ctx, rec); err != nil {
		g.logger.Error(ctx, err, "Failed to persist pending trade record, order not submitted", map[string]interface{}{"tradeID": rec.TradeID})
		return nil, fmt.Errorf("persist pending trade for %s: %w", order.Symbol, err)
	}

	resp, err := g.placeWithRetry(ctx, order, rec.ClientOrderID)
	if err != nil {
		if terr := rec.Transition(domain.StatusFailed, time.Now().UTC()); terr == nil {
			if uerr := g.trades.Update(ctx, rec); uerr != nil {
				g.logger.Error(ctx, uerr, "Failed to persist FAILED trade record", map[string]interface{}{"tradeID": rec.TradeID})
			}
		}
		g.appendEvent(ctx, domain.EventOrderFailed, map[string]interface{}{
			"trade_id": rec.TradeID,
			"symbol":   order.Symbol,
			"error":    err.Error(),
		}, "broker submission failed")
		g.logger.Error(ctx, err, "Broker submission failed", map[string]interface{}{"tradeID": rec.TradeID, "symbol": order.Symbol})
		return &domain.OrderResult{
			TradeID: rec.TradeID,
			Error:   err.Error(),
			Message: "broker submission failed",
		}, nil
	}

	rec.BrokerOrderID = resp.BrokerOrderID
	if err := rec.Transition(domain.StatusSubmitted, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := g.trades.Update(ctx, rec); err != nil {
		g.logger.Error(ctx, err, "Failed to persist SUBMITTED trade record", map[string]interface{}{"tradeID": rec.TradeID})
	}

	state.AddPosition(domain.OpenPosition{
		TradeID:       rec.TradeID,
		Symbol:        order.Symbol,
		CapitalAtRisk: order.CapitalRequired,
		Legs:          order.Legs,
		EntryTime:     rec.UpdatedAt,
	})
	if err := g.states.Save(ctx, state); err != nil {
		// The order is already at the broker; the exposure write failing
		// is logged loudly rather than unwinding the submission.
		g.logger.Error(ctx, err, "Failed to persist open position in risk state", map[string]interface{}{"tradeID": rec.TradeID})
	}

	metrics.OrderAdmitted()
	g.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"tradeID":       rec.TradeID,
		"symbol":        order.Symbol,
		"brokerOrderID": rec.BrokerOrderID,
	})
	return &domain.OrderResult{
		Success:       true,
		TradeID:       rec.TradeID,
		BrokerOrderID: rec.BrokerOrderID,
		Message:       "order submitted",
	}, nil
}

func (g *Gate) placeWithRetry(ctx context.Context, order *domain.Order, clientOrderID string) (*ports.OrderResponse, error) {
	b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		resp, err := g.broker.PlaceOrder(ctx, order, clientOrderID)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == maxSubmitAttempts {
			break
		}
		g.logger.Warn(ctx, "Broker submission attempt failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"symbol":  order.Symbol,
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
	return nil, lastErr
}

// RecordFill advances a SUBMITTED trade to FILLED with its fill price.
// Called by the broker-events collaborator.
func (g *Gate) RecordFill(ctx context.Context, tradeID string, fillPrice float64) error {
	rec, err := g.trades.FindByID(ctx, tradeID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: trade %s", ports.ErrNotFound, tradeID)
	}
	if err := rec.Transition(domain.StatusFilled, time.Now().UTC()); err != nil {
		return err
	}
	rec.FillPrice = fillPrice
	return g.trades.Update(ctx, rec)
}

// RecordClose closes a FILLED trade with its realized PnL, releases its
// exposure from the risk state and folds the PnL into the daily loss. When
// the daily loss limit is crossed the circuit breaker trips here, so the
// very next submission is rejected.
func (g *Gate) RecordClose(ctx context.Context, tradeID string, realizedPnL float64) error {
	rec, err := g.trades.FindByID(ctx, tradeID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: trade %s", ports.ErrNotFound, tradeID)
	}
	now := time.Now().UTC()
	if err := rec.Transition(domain.StatusClosed, now); err != nil {
		return err
	}
	rec.RealizedPnL = realizedPnL
	if err := g.trades.Update(ctx, rec); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.states.Load(ctx)
	if err != nil {
		return fmt.Errorf("record close for %s: %w", tradeID, err)
	}
	if !state.RecordClose(tradeID, realizedPnL, now) {
		g.logger.Warn(ctx, "Closed trade had no open position in risk state", map[string]interface{}{"tradeID": tradeID})
	}

	limits := g.validator.Limits()
	if state.DailyLoss <= -limits.DailyLossLimit && !state.CircuitBreakerTriggered {
		state.TripBreaker(now)
		g.appendEvent(ctx, domain.EventCircuitBreaker, map[string]interface{}{
			"daily_loss": state.DailyLoss,
			"limit":      limits.DailyLossLimit,
		}, "circuit breaker tripped on daily loss")
		metrics.SetBreakerActive(true)
		g.logger.Warn(ctx, "Circuit breaker tripped on daily loss", map[string]interface{}{
			"dailyLoss": state.DailyLoss,
			"limit":     limits.DailyLossLimit,
		})
	}

	if err := g.states.Save(ctx, state); err != nil {
		return fmt.Errorf("record close for %s: %w", tradeID, err)
	}
	g.logger.Info(ctx, "Trade closed", map[string]interface{}{"tradeID": tradeID, "realizedPnL": realizedPnL})
	return nil
}

func (g *Gate) appendEvent(ctx context.Context, evType domain.SafetyEventType, details map[string]interface{}, action string) {
	ev := &domain.SafetyEvent{
		EventID:     id.New(),
		Timestamp:   time.Now().UTC(),
		Type:        evType,
		Details:     details,
		ActionTaken: action,
	}
	if err := g.events.Append(ctx, ev); err != nil {
		g.logger.Error(ctx, err, "Failed to append safety event", map[string]interface{}{"type": string(evType)})
	}
}
