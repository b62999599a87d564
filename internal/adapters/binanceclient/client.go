// Package binanceclient implements the broker collaborator interfaces over
// the Binance futures API.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"capguard/internal/domain"
	"capguard/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements ports.BrokerClient and ports.PanicCloser. Each instance
// holds its own HTTP client and tags its orders with a session prefix, so
// the trading process and the watchdog operate on independent connections.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	sessionTag    string
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
	// SessionTag prefixes every client order id placed through this
	// instance (e.g. "trader" vs "watchdog").
	SessionTag string
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.SessionTag == "" {
		return nil, fmt.Errorf("session tag is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": client.BaseURL,
		"session": cfg.SessionTag,
	})

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		sessionTag:    cfg.SessionTag,
	}, nil
}

// PlaceOrder submits each leg of the order as a market order and returns
// once every leg is acknowledged. Binance has no native multi-leg orders,
// so leg broker ids are joined with "/".
func (c *Client) PlaceOrder(ctx context.Context, order *domain.Order, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	var brokerIDs []string
	var lastStatus string
	var fillSum, fillQty float64

	for i := range order.Legs {
		leg := &order.Legs[i]
		legClientID := fmt.Sprintf("%s-%s-%d", c.sessionTag, clientOrderID, i)
		resp, err := c.futuresClient.NewCreateOrderService().
			Symbol(leg.InstrumentSymbol(order)).
			Side(futures.SideType(leg.Action)).
			Type(futures.OrderTypeMarket).
			Quantity(strconv.Itoa(leg.Quantity)).
			NewClientOrderID(legClientID).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		brokerIDs = append(brokerIDs, strconv.FormatInt(resp.OrderID, 10))
		lastStatus = string(resp.Status)
		if avg, perr := strconv.ParseFloat(resp.AvgPrice, 64); perr == nil && avg > 0 {
			qty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
			fillSum += avg * qty
			fillQty += qty
		}
	}

	result := &ports.OrderResponse{
		BrokerOrderID: strings.Join(brokerIDs, "/"),
		ClientOrderID: clientOrderID,
		Status:        lastStatus,
		SubmittedAt:   time.Now().UTC(),
	}
	if fillQty > 0 {
		result.AvgPrice = fillSum / fillQty
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":        order.Symbol,
		"legs":          len(order.Legs),
		"brokerOrderID": result.BrokerOrderID,
	})
	return result, nil
}

// PlaceOrderAsync submits the order in the background and delivers the
// outcome on the returned channel.
func (c *Client) PlaceOrderAsync(ctx context.Context, order *domain.Order, clientOrderID string) (<-chan ports.AsyncResult, error) {
	ch := make(chan ports.AsyncResult, 1)
	go func() {
		defer close(ch)
		resp, err := c.PlaceOrder(ctx, order, clientOrderID)
		ch <- ports.AsyncResult{Response: resp, Err: err}
	}()
	return ch, nil
}

// CancelOrder cancels an open order by its broker id.
func (c *Client) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error {
	op := "CancelOrder"
	orderID, err := strconv.ParseInt(brokerOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid broker order id %q", ports.ErrOrderCancelFailed, brokerOrderID)
	}
	if _, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "brokerOrderID": brokerOrderID})
	return nil
}

// NetLiquidationValue returns the account's total margin balance.
func (c *Client) NetLiquidationValue(ctx context.Context) (float64, error) {
	op := "NetLiquidationValue"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	value, err := strconv.ParseFloat(account.TotalMarginBalance, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("parse total margin balance %q: %w", account.TotalMarginBalance, err), op)
	}
	return value, nil
}

// OpenPositions returns all non-flat positions on the account.
func (c *Client) OpenPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	op := "OpenPositions"
	positions, err := c.futuresClient.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var open []ports.BrokerPosition
	for _, p := range positions {
		qty, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		open = append(open, ports.BrokerPosition{
			Symbol:        p.Symbol,
			Quantity:      qty,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: upnl,
		})
	}
	return open, nil
}

// CloseAllPositions flattens every open position with reduce-only market
// orders. It keeps going past individual failures and reports them joined,
// so one stuck symbol cannot block the rest of the emergency close.
func (c *Client) CloseAllPositions(ctx context.Context) error {
	op := "CloseAllPositions"
	positions, err := c.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("%s: list positions: %w", op, err)
	}
	if len(positions) == 0 {
		c.logger.Info(ctx, op+": no open positions")
		return nil
	}

	var failures []string
	for _, pos := range positions {
		side := futures.SideTypeSell
		qty := pos.Quantity
		if qty < 0 {
			side = futures.SideTypeBuy
			qty = -qty
		}
		_, err := c.futuresClient.NewCreateOrderService().
			Symbol(pos.Symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
			ReduceOnly(true).
			NewClientOrderID(fmt.Sprintf("%s-panic-%d", c.sessionTag, time.Now().UnixMilli())).
			Do(ctx)
		if err != nil {
			c.logger.Error(ctx, err, op+": failed to close position", map[string]interface{}{"symbol": pos.Symbol, "quantity": pos.Quantity})
			failures = append(failures, pos.Symbol)
			continue
		}
		c.logger.Info(ctx, op+": position closed", map[string]interface{}{"symbol": pos.Symbol, "quantity": pos.Quantity})
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: close failed for %s", ports.ErrOrderPlacementFailed, strings.Join(failures, ", "))
	}
	return nil
}

// Ping checks connectivity to the broker API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping")
	}
	return nil
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		case -2010, -2022:
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011:
			mappedErr = ports.ErrOrderCancelFailed
		case -2019, -3005, -3041:
			mappedErr = ports.ErrInsufficientFunds
		case -4044:
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrBrokerUnavailable
		}
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "use of closed network connection"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrBrokerUnavailable, err)
	}

	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}
