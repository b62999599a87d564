package ports

import (
	"context"
	"time"

	"capguard/internal/domain"
)

// OrderResponse represents the essential details returned after submission.
type OrderResponse struct {
	BrokerOrderID string    // Broker-assigned id (joined with "/" for multi-leg fills)
	ClientOrderID string    // Id we attached to the submission
	Status        string    // Broker-side status (e.g. NEW, FILLED)
	AvgPrice      float64   // Average fill price if immediately filled
	SubmittedAt   time.Time // Time the broker acknowledged the order
}

// AsyncResult is delivered on the channel returned by PlaceOrderAsync.
type AsyncResult struct {
	Response *OrderResponse
	Err      error
}

// BrokerPosition is an open position as reported by the broker.
type BrokerPosition struct {
	Symbol        string
	Quantity      float64 // Positive for long, negative for short
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// BrokerClient is the broker-submission collaborator. Each instance owns its
// own connection/session identity; the watchdog holds a separate instance so
// failures on the trading process's connection cannot mask its view.
type BrokerClient interface {
	// PlaceOrder submits all legs of the order synchronously and returns
	// once the broker has acknowledged them.
	PlaceOrder(ctx context.Context, order *domain.Order, clientOrderID string) (*OrderResponse, error)

	// PlaceOrderAsync submits the order without waiting for the
	// acknowledgement; the result is delivered on the returned channel.
	PlaceOrderAsync(ctx context.Context, order *domain.Order, clientOrderID string) (<-chan AsyncResult, error)

	// CancelOrder cancels an open order by its broker-assigned id.
	CancelOrder(ctx context.Context, symbol, brokerOrderID string) error

	// NetLiquidationValue returns the account's current net liquidation
	// value in the account currency.
	NetLiquidationValue(ctx context.Context) (float64, error)

	// OpenPositions returns all open positions on the account.
	OpenPositions(ctx context.Context) ([]BrokerPosition, error)

	// Ping checks connectivity to the broker API.
	Ping(ctx context.Context) error
}

// PanicCloser flattens every open position at market, best effort. Used by
// the watchdog during an intervention.
type PanicCloser interface {
	CloseAllPositions(ctx context.Context) error
}
