package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capguard/internal/domain"
	"capguard/internal/ports"
	"capguard/internal/safety"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// callLog records the order of side effects across mocks so tests can assert
// persistence-before-broker ordering.
type callLog struct {
	calls []string
}

func (c *callLog) add(s string) { c.calls = append(c.calls, s) }

type mockStateStore struct {
	state   *domain.RiskState
	loadErr error
	saveErr error
	saves   int
}

func (m *mockStateStore) Load(ctx context.Context) (*domain.RiskState, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.state == nil {
		m.state = domain.NewRiskState()
	}
	return m.state, nil
}

func (m *mockStateStore) Save(ctx context.Context, state *domain.RiskState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = state
	m.saves++
	return nil
}

type mockTradeRepo struct {
	log       *callLog
	records   map[string]*domain.TradeRecord
	today     int
	createErr error
	countErr  error
}

func newMockTradeRepo(log *callLog) *mockTradeRepo {
	return &mockTradeRepo{log: log, records: map[string]*domain.TradeRecord{}}
}

func (m *mockTradeRepo) Create(ctx context.Context, rec *domain.TradeRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.log != nil {
		m.log.add("create:" + string(rec.Status))
	}
	cp := *rec
	m.records[rec.TradeID] = &cp
	return nil
}

func (m *mockTradeRepo) Update(ctx context.Context, rec *domain.TradeRecord) error {
	if m.log != nil {
		m.log.add("update:" + string(rec.Status))
	}
	cp := *rec
	m.records[rec.TradeID] = &cp
	return nil
}

func (m *mockTradeRepo) FindByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	rec, ok := m.records[tradeID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockTradeRepo) CountToday(ctx context.Context) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.today, nil
}

func (m *mockTradeRepo) only(t *testing.T) *domain.TradeRecord {
	t.Helper()
	require.Len(t, m.records, 1)
	for _, rec := range m.records {
		return rec
	}
	return nil
}

type mockEventRepo struct {
	events []*domain.SafetyEvent
}

func (m *mockEventRepo) Append(ctx context.Context, ev *domain.SafetyEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *mockEventRepo) Recent(ctx context.Context, limit int) ([]*domain.SafetyEvent, error) {
	return m.events, nil
}

type mockBroker struct {
	log      *callLog
	placeErr error
	calls    int
	resp     *ports.OrderResponse
}

func (m *mockBroker) PlaceOrder(ctx context.Context, order *domain.Order, clientOrderID string) (*ports.OrderResponse, error) {
	m.calls++
	if m.log != nil {
		m.log.add("broker")
	}
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	if m.resp != nil {
		return m.resp, nil
	}
	return &ports.OrderResponse{
		BrokerOrderID: "B-1001",
		ClientOrderID: clientOrderID,
		Status:        "NEW",
		SubmittedAt:   time.Now().UTC(),
	}, nil
}

func (m *mockBroker) PlaceOrderAsync(ctx context.Context, order *domain.Order, clientOrderID string) (<-chan ports.AsyncResult, error) {
	ch := make(chan ports.AsyncResult, 1)
	resp, err := m.PlaceOrder(ctx, order, clientOrderID)
	ch <- ports.AsyncResult{Response: resp, Err: err}
	close(ch)
	return ch, nil
}

func (m *mockBroker) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error { return nil }

func (m *mockBroker) NetLiquidationValue(ctx context.Context) (float64, error) { return 0, nil }

func (m *mockBroker) OpenPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	return nil, nil
}

func (m *mockBroker) Ping(ctx context.Context) error { return nil }

type fixture struct {
	gate   *Gate
	states *mockStateStore
	trades *mockTradeRepo
	events *mockEventRepo
	broker *mockBroker
	log    *callLog
}

func newFixture(t *testing.T, limits safety.Limits) *fixture {
	t.Helper()
	validator, err := safety.NewValidator(limits)
	require.NoError(t, err)

	log := &callLog{}
	f := &fixture{
		states: &mockStateStore{},
		trades: newMockTradeRepo(log),
		events: &mockEventRepo{},
		broker: &mockBroker{log: log},
		log:    log,
	}
	f.gate, err = NewGate(Config{
		Validator: validator,
		States:    f.states,
		Trades:    f.trades,
		Events:    f.events,
		Broker:    f.broker,
		Logger:    nopLogger{},
	})
	require.NoError(t, err)
	return f
}

func testLimits() safety.Limits {
	return safety.Limits{
		MaxTradeRisk:         500,
		MaxTradeCapital:      5000,
		DailyLossLimit:       1000,
		MaxTradesPerDay:      10,
		MaxConcentration:     0.30,
		MaxTotalExposure:     10000,
		DrawdownThreshold:    0.10,
		ConsecutiveLossLimit: 3,
		MinLegPrice:          0.05,
		MaxSpreadWidth:       10,
	}
}

func testOrder() *domain.Order {
	return &domain.Order{
		Symbol:          "SPY",
		Strategy:        "iron-condor",
		MaxRisk:         400,
		CapitalRequired: 2000,
		Legs: []domain.Leg{
			{Action: domain.Sell, Quantity: 1, Price: 1.25},
			{Action: domain.Buy, Quantity: 1, Price: 0.75},
		},
	}
}

func TestSubmitAdmittedOrder(t *testing.T) {
	f := newFixture(t, testLimits())

	result, err := f.gate.Submit(context.Background(), testOrder())
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.NotEmpty(t, result.TradeID)
	assert.Equal(t, "B-1001", result.BrokerOrderID)

	rec := f.trades.only(t)
	assert.Equal(t, domain.StatusSubmitted, rec.Status)
	assert.NotEmpty(t, rec.ClientOrderID)
	assert.Equal(t, "B-1001", rec.BrokerOrderID)

	// Exposure recorded in the risk state.
	require.Len(t, f.states.state.OpenTrades, 1)
	assert.Equal(t, result.TradeID, f.states.state.OpenTrades[0].TradeID)
	assert.Equal(t, 2000.0, f.states.state.OpenTrades[0].CapitalAtRisk)

	// PENDING was durable before the broker saw the order.
	require.GreaterOrEqual(t, len(f.log.calls), 2)
	assert.Equal(t, "create:PENDING", f.log.calls[0])
	assert.Equal(t, "broker", f.log.calls[1])
}

func TestSubmitMalformedOrderNeverReachesBroker(t *testing.T) {
	f := newFixture(t, testLimits())

	order := testOrder()
	order.Symbol = ""

	result, err := f.gate.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ports.ErrMalformedOrder.Error())
	assert.Zero(t, f.broker.calls)

	// The attempt is still journaled and audited.
	rec := f.trades.only(t)
	assert.Equal(t, domain.StatusRejected, rec.Status)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.EventOrderRejected, f.events.events[0].Type)
	assert.Equal(t, CodeMalformed, f.events.events[0].Details["code"])
}

func TestSubmitPolicyRejectionPersistsBeforeReturn(t *testing.T) {
	f := newFixture(t, testLimits())

	order := testOrder()
	order.MaxRisk = 600

	result, err := f.gate.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "600.00")
	assert.Zero(t, f.broker.calls)

	rec := f.trades.only(t)
	assert.Equal(t, domain.StatusRejected, rec.Status)
	assert.Equal(t, result.Error, rec.RejectReason)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.EventOrderRejected, f.events.events[0].Type)
	assert.Equal(t, safety.CodeMaxTradeRisk, f.events.events[0].Details["code"])
}

func TestSubmitFailsClosedOnStateLoadError(t *testing.T) {
	f := newFixture(t, testLimits())
	f.states.loadErr = fmt.Errorf("read snapshot: %w", ports.ErrStateUnavailable)

	result, err := f.gate.Submit(context.Background(), testOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrStateUnavailable)
	assert.Nil(t, result)
	assert.Zero(t, f.broker.calls)
	assert.Empty(t, f.trades.records)
}

func TestSubmitFailsClosedOnJournalError(t *testing.T) {
	f := newFixture(t, testLimits())
	f.trades.countErr = ports.ErrQueryFailed

	_, err := f.gate.Submit(context.Background(), testOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrQueryFailed)
	assert.Zero(t, f.broker.calls)
}

func TestSubmitRejectsAtDailyTradeLimit(t *testing.T) {
	f := newFixture(t, testLimits())
	f.trades.today = 10

	result, err := f.gate.Submit(context.Background(), testOrder())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Zero(t, f.broker.calls)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, safety.CodeMaxTradesPerDay, f.events.events[0].Details["code"])
}

func TestSubmitBrokerFailureMarksTradeFailed(t *testing.T) {
	f := newFixture(t, testLimits())
	f.broker.placeErr = ports.ErrBrokerUnavailable

	result, err := f.gate.Submit(context.Background(), testOrder())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ports.ErrBrokerUnavailable.Error())

	// Retried up to the attempt cap, then gave up.
	assert.Equal(t, maxSubmitAttempts, f.broker.calls)

	rec := f.trades.only(t)
	assert.Equal(t, domain.StatusFailed, rec.Status)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.EventOrderFailed, f.events.events[0].Type)

	// A failed submission leaves no exposure behind.
	assert.Empty(t, f.states.state.OpenTrades)
}

func TestSubmitRejectsWhileBreakerTripped(t *testing.T) {
	f := newFixture(t, testLimits())
	now := time.Now().UTC()
	f.states.state = domain.NewRiskState()
	f.states.state.TripBreaker(now)

	result, err := f.gate.Submit(context.Background(), testOrder())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Zero(t, f.broker.calls)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, safety.CodeCircuitBreaker, f.events.events[0].Details["code"])
}

func TestRecordFill(t *testing.T) {
	f := newFixture(t, testLimits())

	result, err := f.gate.Submit(context.Background(), testOrder())
	require.NoError(t, err)
	require.True(t, result.Success)

	require.NoError(t, f.gate.RecordFill(context.Background(), result.TradeID, 1.20))
	rec := f.trades.only(t)
	assert.Equal(t, domain.StatusFilled, rec.Status)
	assert.Equal(t, 1.20, rec.FillPrice)

	err = f.gate.RecordFill(context.Background(), "no-such-trade", 1.0)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRecordCloseReleasesExposureAndFoldsPnL(t *testing.T) {
	f := newFixture(t, testLimits())
	ctx := context.Background()

	result, err := f.gate.Submit(ctx, testOrder())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NoError(t, f.gate.RecordFill(ctx, result.TradeID, 1.20))

	require.NoError(t, f.gate.RecordClose(ctx, result.TradeID, -150))

	rec := f.trades.only(t)
	assert.Equal(t, domain.StatusClosed, rec.Status)
	assert.Equal(t, -150.0, rec.RealizedPnL)

	state := f.states.state
	assert.Empty(t, state.OpenTrades)
	assert.Equal(t, -150.0, state.DailyLoss)
	assert.Equal(t, 1, state.ConsecutiveLosses)
	assert.False(t, state.CircuitBreakerTriggered)
}

func TestRecordCloseTripsBreakerAtDailyLossLimit(t *testing.T) {
	f := newFixture(t, testLimits())
	ctx := context.Background()

	result, err := f.gate.Submit(ctx, testOrder())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NoError(t, f.gate.RecordFill(ctx, result.TradeID, 1.20))

	// Prior losses plus this one cross the 1000 limit.
	f.states.state.DailyLoss = -900
	require.NoError(t, f.gate.RecordClose(ctx, result.TradeID, -200))

	state := f.states.state
	assert.Equal(t, -1100.0, state.DailyLoss)
	assert.True(t, state.CircuitBreakerTriggered)

	var breakerEvents int
	for _, ev := range f.events.events {
		if ev.Type == domain.EventCircuitBreaker {
			breakerEvents++
		}
	}
	assert.Equal(t, 1, breakerEvents)

	// The very next submission is rejected.
	next, err := f.gate.Submit(ctx, testOrder())
	require.NoError(t, err)
	assert.False(t, next.Success)
}

func TestNewGateRequiresAllDependencies(t *testing.T) {
	validator, err := safety.NewValidator(testLimits())
	require.NoError(t, err)

	_, err = NewGate(Config{Validator: validator})
	assert.Error(t, err)
	_, err = NewGate(Config{})
	assert.Error(t, err)
}

var errBoom = errors.New("boom")

func TestSubmitFailsClosedWhenPendingPersistFails(t *testing.T) {
	f := newFixture(t, testLimits())
	f.trades.createErr = errBoom

	result, err := f.gate.Submit(context.Background(), testOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, result)
	assert.Zero(t, f.broker.calls)
}
