package statefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capguard/internal/domain"
	"capguard/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "risk_state.json"),
		Logger: nopLogger{},
	})
	require.NoError(t, err)
	return store
}

func TestStoreLoadMissingFileReturnsSafeDefaults(t *testing.T) {
	store := newTestStore(t)

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, state.DailyLoss)
	assert.False(t, state.CircuitBreakerTriggered)
	assert.False(t, state.EmergencyStop)
	assert.Empty(t, state.OpenTrades)
}

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	state := domain.NewRiskState()
	state.DailyLoss = -340.50
	state.ConsecutiveLosses = 2
	state.TripBreaker(now)
	state.AddPosition(domain.OpenPosition{
		TradeID:       "t1",
		Symbol:        "SPY",
		CapitalAtRisk: 2500,
		EntryTime:     now,
	})

	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, -340.50, loaded.DailyLoss)
	assert.Equal(t, 2, loaded.ConsecutiveLosses)
	assert.True(t, loaded.CircuitBreakerTriggered)
	require.NotNil(t, loaded.CircuitBreakerTimestamp)
	assert.True(t, loaded.CircuitBreakerTimestamp.Equal(now))
	require.Len(t, loaded.OpenTrades, 1)
	assert.Equal(t, "t1", loaded.OpenTrades[0].TradeID)
	assert.Equal(t, 2500.0, loaded.OpenTrades[0].CapitalAtRisk)
}

func TestStoreLoadCorruptFileFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk_state.json")
	store, err := NewStore(StoreConfig{Path: path, Logger: nopLogger{}})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrStateUnavailable)
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(StoreConfig{Path: filepath.Join(dir, "risk_state.json"), Logger: nopLogger{}})
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), domain.NewRiskState()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "risk_state.json", entries[0].Name())
}

func TestHeartbeatRoundtrip(t *testing.T) {
	hb, err := NewHeartbeat(filepath.Join(t.TempDir(), "heartbeat"))
	require.NoError(t, err)
	ctx := context.Background()

	before := time.Now().UTC()
	require.NoError(t, hb.Beat(ctx))
	after := time.Now().UTC()

	last, err := hb.Last(ctx)
	require.NoError(t, err)
	assert.False(t, last.Before(before.Truncate(time.Second)))
	assert.False(t, last.After(after))
}

func TestHeartbeatMissingFileErrors(t *testing.T) {
	hb, err := NewHeartbeat(filepath.Join(t.TempDir(), "heartbeat"))
	require.NoError(t, err)

	_, err = hb.Last(context.Background())
	assert.Error(t, err)
}

func TestHeartbeatUnparsableErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat")
	hb, err := NewHeartbeat(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o644))

	_, err = hb.Last(context.Background())
	assert.Error(t, err)
}

func TestPIDFileRoundtrip(t *testing.T) {
	pf, err := NewPIDFile(filepath.Join(t.TempDir(), "trader.pid"))
	require.NoError(t, err)

	require.NoError(t, pf.Write(4242))
	pid, err := pf.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, pf.Remove())
	_, err = pf.ReadPID()
	assert.Error(t, err)

	// Removing an already-removed pidfile is not an error.
	assert.NoError(t, pf.Remove())
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(StoreConfig{Path: "", Logger: nopLogger{}})
	assert.Error(t, err)
	_, err = NewStore(StoreConfig{Path: "x.json"})
	assert.Error(t, err)
}
