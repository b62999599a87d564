// Package sqlite implements the trade journal and the append-only safety
// event log on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"capguard/internal/domain"
	"capguard/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository and ports.SafetyEventRepository.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database and initializes the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/capguard.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory '%s': %w", filepath.Dir(dbPath), err)
	}

	// WAL mode: the watchdog and riskctl read this database while the
	// trading process writes it.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open database at '%s': %v", ports.ErrDBConnection, dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database schema: %w", err)
	}

	cfg.Logger.Info(context.Background(), "SQLite repository initialized", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		trade_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		status TEXT NOT NULL,
		order_json TEXT NOT NULL,
		reject_reason TEXT DEFAULT NULL,
		client_order_id TEXT DEFAULT NULL,
		broker_order_id TEXT DEFAULT NULL,
		fill_price REAL DEFAULT NULL,
		realized_pnl REAL DEFAULT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS safety_events (
		event_id TEXT PRIMARY KEY,
		ts TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT DEFAULT NULL,
		action_taken TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades (created_at);
	CREATE INDEX IF NOT EXISTS idx_safety_events_ts ON safety_events (ts);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create persists a new trade record.
func (r *Repository) Create(ctx context.Context, rec *domain.TradeRecord) error {
	orderJSON, err := json.Marshal(rec.Order)
	if err != nil {
		return fmt.Errorf("marshal order snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trades
		(trade_id, symbol, strategy, status, order_json, reject_reason, client_order_id, broker_order_id, fill_price, realized_pnl, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TradeID, rec.Order.Symbol, rec.Order.Strategy, string(rec.Status), string(orderJSON),
		nullableString(rec.RejectReason), nullableString(rec.ClientOrderID), nullableString(rec.BrokerOrderID),
		nullableFloat(rec.FillPrice), nullableFloat(rec.RealizedPnL),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert trade %s: %v", ports.ErrQueryFailed, rec.TradeID, err)
	}
	return nil
}

// Update persists the current state of an existing record.
func (r *Repository) Update(ctx context.Context, rec *domain.TradeRecord) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, reject_reason = ?, client_order_id = ?, broker_order_id = ?, fill_price = ?, realized_pnl = ?, updated_at = ?
		WHERE trade_id = ?`,
		string(rec.Status), nullableString(rec.RejectReason), nullableString(rec.ClientOrderID),
		nullableString(rec.BrokerOrderID), nullableFloat(rec.FillPrice), nullableFloat(rec.RealizedPnL),
		rec.UpdatedAt.UTC(), rec.TradeID,
	)
	if err != nil {
		return fmt.Errorf("%w: update trade %s: %v", ports.ErrUpdateFailed, rec.TradeID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: trade %s", ports.ErrNotFound, rec.TradeID)
	}
	return nil
}

// FindByID retrieves a record by trade id. Returns nil, nil when absent.
func (r *Repository) FindByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT trade_id, status, order_json, reject_reason, client_order_id, broker_order_id, fill_price, realized_pnl, created_at, updated_at
		FROM trades WHERE trade_id = ?`, tradeID)

	rec, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find trade %s: %v", ports.ErrQueryFailed, tradeID, err)
	}
	return rec, nil
}

// CountToday counts trades created since the start of the current UTC day.
func (r *Repository) CountToday(ctx context.Context) (int, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE created_at >= ?`, midnight).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count today's trades: %v", ports.ErrQueryFailed, err)
	}
	return count, nil
}

// Append writes one safety event.
func (r *Repository) Append(ctx context.Context, ev *domain.SafetyEvent) error {
	var details interface{}
	if ev.Details != nil {
		data, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		details = string(data)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO safety_events (event_id, ts, event_type, details, action_taken)
		VALUES (?, ?, ?, ?, ?)`,
		ev.EventID, ev.Timestamp.UTC(), string(ev.Type), details, ev.ActionTaken,
	)
	if err != nil {
		return fmt.Errorf("%w: append safety event %s: %v", ports.ErrQueryFailed, ev.EventID, err)
	}
	return nil
}

// Recent returns the most recent safety events, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]*domain.SafetyEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, ts, event_type, details, action_taken
		FROM safety_events ORDER BY ts DESC, event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query safety events: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var events []*domain.SafetyEvent
	for rows.Next() {
		ev := &domain.SafetyEvent{}
		var eventType string
		var details sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.Timestamp, &eventType, &details, &ev.ActionTaken); err != nil {
			return nil, fmt.Errorf("%w: scan safety event: %v", ports.ErrQueryFailed, err)
		}
		ev.Type = domain.SafetyEventType(eventType)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("parse details for event %s: %w", ev.EventID, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate safety events: %v", ports.ErrQueryFailed, err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*domain.TradeRecord, error) {
	rec := &domain.TradeRecord{}
	var status, orderJSON string
	var rejectReason, clientOrderID, brokerOrderID sql.NullString
	var fillPrice, realizedPnL sql.NullFloat64

	err := row.Scan(&rec.TradeID, &status, &orderJSON, &rejectReason, &clientOrderID,
		&brokerOrderID, &fillPrice, &realizedPnL, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.TradeStatus(status)
	if err := json.Unmarshal([]byte(orderJSON), &rec.Order); err != nil {
		return nil, fmt.Errorf("parse order snapshot for trade %s: %w", rec.TradeID, err)
	}
	if rejectReason.Valid {
		rec.RejectReason = rejectReason.String
	}
	if clientOrderID.Valid {
		rec.ClientOrderID = clientOrderID.String
	}
	if brokerOrderID.Valid {
		rec.BrokerOrderID = brokerOrderID.String
	}
	if fillPrice.Valid {
		rec.FillPrice = fillPrice.Float64
	}
	if realizedPnL.Valid {
		rec.RealizedPnL = realizedPnL.Float64
	}
	return rec, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}
