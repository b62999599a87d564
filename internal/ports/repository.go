package ports

import (
	"context"
	"time"

	"capguard/internal/domain"
)

// RiskStateStore is the durable, file-resident risk snapshot shared between
// the trading process and the watchdog. Load must return a safe default
// when no snapshot exists yet; Save must be atomic (a concurrent reader
// never observes a partial write).
type RiskStateStore interface {
	Load(ctx context.Context) (*domain.RiskState, error)
	Save(ctx context.Context, state *domain.RiskState) error
}

// TradeRepository stores trade records and their status transitions.
type TradeRepository interface {
	// Create persists a new trade record.
	Create(ctx context.Context, rec *domain.TradeRecord) error
	// Update persists the current state of an existing record.
	Update(ctx context.Context, rec *domain.TradeRecord) error
	// FindByID retrieves a record by trade id. Returns nil, nil when absent.
	FindByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error)
	// CountToday counts records created since the start of the current UTC day.
	CountToday(ctx context.Context) (int, error)
}

// SafetyEventRepository is the append-only safety audit log.
type SafetyEventRepository interface {
	// Append writes one event. Events are never updated or deleted.
	Append(ctx context.Context, ev *domain.SafetyEvent) error
	// Recent returns the most recent events, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.SafetyEvent, error)
}

// HeartbeatWriter is used by the trading process to publish liveness.
type HeartbeatWriter interface {
	Beat(ctx context.Context) error
}

// HeartbeatReader is used by the watchdog to observe liveness. Last returns
// the timestamp of the most recent beat; a missing or unparsable heartbeat
// is an error (the watchdog treats it as stale after its debounce window).
type HeartbeatReader interface {
	Last(ctx context.Context) (time.Time, error)
}
