// Package watchdog supervises the trading process from a separate OS
// process. It polls the heartbeat file and the account value over its own
// broker session; when the trading process freezes or the account draws
// down past the threshold it terminates the process, flattens positions and
// trips the circuit breaker.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"capguard/internal/adapters/metrics"
	"capguard/internal/domain"
	"capguard/internal/id"
	"capguard/internal/ports"
	"capguard/internal/safety"
)

// State is the watchdog's supervision state.
type State string

const (
	StateMonitoring State = "MONITORING"
	StateAlerted    State = "ALERTED"
	StateIntervened State = "INTERVENED"
)

// Intervention triggers.
const (
	TriggerFrozenProcess = "frozen_process"
	TriggerDrawdown      = "drawdown"
)

const maxCloseAttempts = 3

// Config holds the watchdog's tunables.
type Config struct {
	PollInterval     time.Duration
	HeartbeatTimeout time.Duration
	// InitialEquity is the drawdown baseline. Zero means record the first
	// successfully fetched account value as the baseline.
	InitialEquity float64
}

// Deps holds the watchdog's constructor-injected collaborators. Broker and
// Closer must use a connection identity distinct from the trading process's
// own, so the two cannot contend or be torn down together.
type Deps struct {
	Heartbeat ports.HeartbeatReader
	PID       ports.PIDReader
	States    ports.RiskStateStore
	Events    ports.SafetyEventRepository
	Broker    ports.BrokerClient
	Closer    ports.PanicCloser
	Proc      ports.ProcessController
	Breaker   *safety.Breaker
	Logger    ports.Logger
}

// Watchdog runs the supervision loop. It is not safe for concurrent use;
// one goroutine drives Run.
type Watchdog struct {
	cfg  Config
	deps Deps

	state         State
	initialEquity float64
	now           func() time.Time
}

// New creates a watchdog.
func New(cfg Config, deps Deps) (*Watchdog, error) {
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.PollInterval)
	}
	if cfg.HeartbeatTimeout <= 0 {
		return nil, fmt.Errorf("heartbeat timeout must be positive, got %v", cfg.HeartbeatTimeout)
	}
	if deps.Heartbeat == nil || deps.PID == nil || deps.States == nil || deps.Events == nil ||
		deps.Broker == nil || deps.Closer == nil || deps.Proc == nil || deps.Breaker == nil || deps.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Watchdog")
	}
	return &Watchdog{
		cfg:           cfg,
		deps:          deps,
		state:         StateMonitoring,
		initialEquity: cfg.InitialEquity,
		now:           time.Now,
	}, nil
}

// State returns the current supervision state.
func (w *Watchdog) State() State {
	return w.state
}

// Run drives the polling loop until the context is canceled or an
// intervention completes. After an intervention the loop stops: the trading
// session is over and the breaker stays tripped until an operator reset.
func (w *Watchdog) Run(ctx context.Context) error {
	w.deps.Logger.Info(ctx, "Watchdog started", map[string]interface{}{
		"pollInterval":     w.cfg.PollInterval.String(),
		"heartbeatTimeout": w.cfg.HeartbeatTimeout.String(),
		"initialEquity":    w.initialEquity,
	})

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.deps.Logger.Info(ctx, "Watchdog stopping", map[string]interface{}{"reason": ctx.Err().Error()})
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
			if w.state == StateIntervened {
				w.deps.Logger.Warn(ctx, "Watchdog stopping after intervention")
				return nil
			}
		}
	}
}

// tick performs one poll: the heartbeat check, then the drawdown check.
func (w *Watchdog) tick(ctx context.Context) {
	if w.state == StateIntervened {
		return
	}
	if w.checkHeartbeat(ctx) {
		return
	}
	w.checkDrawdown(ctx)
}

// checkHeartbeat returns true when it intervened. A single stale or
// unreadable heartbeat only raises an alert; intervention requires the
// staleness to persist across one more poll interval (debounce against a
// delayed write or a file briefly missing mid-rename).
func (w *Watchdog) checkHeartbeat(ctx context.Context) bool {
	var stale bool
	var age time.Duration

	last, err := w.deps.Heartbeat.Last(ctx)
	if err != nil {
		w.deps.Logger.Warn(ctx, "Heartbeat unreadable", map[string]interface{}{"error": err.Error()})
		stale = true
	} else {
		age = w.now().Sub(last)
		stale = age > w.cfg.HeartbeatTimeout
	}

	if !stale {
		if w.state == StateAlerted {
			w.deps.Logger.Info(ctx, "Heartbeat recovered", map[string]interface{}{"age": age.String()})
			w.state = StateMonitoring
		}
		return false
	}

	switch w.state {
	case StateMonitoring:
		w.state = StateAlerted
		w.deps.Logger.Warn(ctx, "Heartbeat stale, re-checking next poll", map[string]interface{}{
			"age":     age.String(),
			"timeout": w.cfg.HeartbeatTimeout.String(),
		})
		w.appendEvent(ctx, domain.EventWatchdogAlert, map[string]interface{}{
			"age_seconds":     age.Seconds(),
			"timeout_seconds": w.cfg.HeartbeatTimeout.Seconds(),
		}, "heartbeat stale, debouncing")
		return false
	case StateAlerted:
		w.intervene(ctx, TriggerFrozenProcess, map[string]interface{}{
			"age_seconds":     age.Seconds(),
			"timeout_seconds": w.cfg.HeartbeatTimeout.Seconds(),
		})
		return true
	}
	return false
}

// checkDrawdown fetches the account value over the watchdog's own session
// and intervenes when the drawdown breaker trips. A failed fetch is logged
// and skipped; the broker being briefly unreachable is not a drawdown.
func (w *Watchdog) checkDrawdown(ctx context.Context) {
	equity, err := w.deps.Broker.NetLiquidationValue(ctx)
	if err != nil {
		w.deps.Logger.Warn(ctx, "Failed to fetch account value, skipping drawdown check", map[string]interface{}{"error": err.Error()})
		return
	}
	metrics.SetEquity(equity)

	if w.initialEquity <= 0 {
		w.initialEquity = equity
		w.deps.Logger.Info(ctx, "Recorded drawdown baseline", map[string]interface{}{"initialEquity": equity})
		return
	}

	tripped, err := w.deps.Breaker.CheckDrawdown(ctx, equity, w.initialEquity)
	if err != nil {
		w.deps.Logger.Error(ctx, err, "Drawdown check could not persist breaker state")
	}
	if tripped {
		w.intervene(ctx, TriggerDrawdown, map[string]interface{}{
			"drawdown":       safety.Drawdown(equity, w.initialEquity),
			"current_equity": equity,
			"initial_equity": w.initialEquity,
		})
	}
}

// intervene executes the full intervention sequence: terminate the trading
// process, panic-close all positions, trip the circuit breaker and append
// the audit event. Individual step failures are logged and do not stop the
// remaining steps.
func (w *Watchdog) intervene(ctx context.Context, trigger string, details map[string]interface{}) {
	if w.state == StateIntervened {
		return
	}
	w.state = StateIntervened
	metrics.Intervention(trigger)
	w.deps.Logger.Warn(ctx, "WATCHDOG INTERVENTION", map[string]interface{}{"trigger": trigger})

	// (a) Force-terminate the trading process.
	pid, err := w.deps.PID.ReadPID()
	if err != nil {
		w.deps.Logger.Error(ctx, err, "Cannot resolve trading process pid, skipping termination")
		details["pid_error"] = err.Error()
	} else {
		details["pid"] = pid
		if err := w.deps.Proc.Terminate(pid); err != nil {
			w.deps.Logger.Error(ctx, err, "Failed to terminate trading process", map[string]interface{}{"pid": pid})
			details["terminate_error"] = err.Error()
		} else {
			w.deps.Logger.Warn(ctx, "Trading process terminated", map[string]interface{}{"pid": pid})
		}
	}

	// (b) Panic-close all positions, best effort with bounded retries. A
	// final failure is recorded as its own event, never silently dropped.
	if err := w.panicClose(ctx); err != nil {
		w.deps.Logger.Error(ctx, err, "Emergency position close failed")
		w.appendEvent(ctx, domain.EventEmergencyCloseFailed, map[string]interface{}{
			"trigger": trigger,
			"error":   err.Error(),
		}, "emergency close failed after retries, positions may remain open")
	}

	// (c) Trip the circuit breaker so nothing trades after a restart.
	state, err := w.deps.States.Load(ctx)
	if err != nil {
		w.deps.Logger.Error(ctx, err, "Cannot load risk state to trip circuit breaker")
	} else if !state.CircuitBreakerTriggered {
		state.TripBreaker(w.now().UTC())
		if err := w.deps.States.Save(ctx, state); err != nil {
			w.deps.Logger.Error(ctx, err, "Cannot persist circuit breaker trip")
		}
	}
	metrics.SetBreakerActive(true)

	// (d) Audit record naming the trigger.
	details["trigger"] = trigger
	w.appendEvent(ctx, domain.EventWatchdogIntervention, details,
		"trading process terminated, positions closed, circuit breaker tripped")
}

func (w *Watchdog) panicClose(ctx context.Context) error {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= maxCloseAttempts; attempt++ {
		err := w.deps.Closer.CloseAllPositions(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxCloseAttempts {
			break
		}
		w.deps.Logger.Warn(ctx, "Panic close attempt failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
	return lastErr
}

func (w *Watchdog) appendEvent(ctx context.Context, evType domain.SafetyEventType, details map[string]interface{}, action string) {
	ev := &domain.SafetyEvent{
		EventID:     id.New(),
		Timestamp:   w.now().UTC(),
		Type:        evType,
		Details:     details,
		ActionTaken: action,
	}
	if err := w.deps.Events.Append(ctx, ev); err != nil {
		w.deps.Logger.Error(ctx, err, "Failed to append safety event", map[string]interface{}{"type": string(evType)})
	}
}
