package domain

import "time"

// SafetyEventType classifies entries in the append-only safety log.
type SafetyEventType string

const (
	EventOrderRejected        SafetyEventType = "ORDER_REJECTED"
	EventOrderFailed          SafetyEventType = "ORDER_FAILED"
	EventCircuitBreaker       SafetyEventType = "CIRCUIT_BREAKER"
	EventWatchdogAlert        SafetyEventType = "WATCHDOG_ALERT"
	EventWatchdogIntervention SafetyEventType = "WATCHDOG_INTERVENTION"
	EventEmergencyCloseFailed SafetyEventType = "EMERGENCY_CLOSE_FAILED"
	EventBreakerReset         SafetyEventType = "BREAKER_RESET"
	EventEmergencyStopCleared SafetyEventType = "EMERGENCY_STOP_CLEARED"
	EventDailyReset           SafetyEventType = "DAILY_RESET"
)

// SafetyEvent is one append-only audit record. Events are never updated or
// deleted once written.
type SafetyEvent struct {
	EventID     string                 `json:"event_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        SafetyEventType        `json:"event_type"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ActionTaken string                 `json:"action_taken"`
}
