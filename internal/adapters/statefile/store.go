package statefile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"capguard/internal/domain"
	"capguard/internal/ports"
)

// Store implements ports.RiskStateStore on a single JSON document.
type Store struct {
	path   string
	logger ports.Logger
}

// StoreConfig holds configuration for the risk-state store.
type StoreConfig struct {
	Path   string
	Logger ports.Logger
}

// NewStore creates the store and ensures its directory exists.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for risk state store")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("risk state path is required")
	}
	if err := ensureDir(cfg.Path); err != nil {
		return nil, err
	}
	return &Store{path: cfg.Path, logger: cfg.Logger}, nil
}

// Load reads the current snapshot from disk. A missing file yields the safe
// default state; any other read or parse failure is an infrastructure error
// so callers fail closed instead of admitting on stale assumptions.
func (s *Store) Load(ctx context.Context) (*domain.RiskState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info(ctx, "No risk state snapshot found, using safe defaults", map[string]interface{}{"path": s.path})
			return domain.NewRiskState(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ports.ErrStateUnavailable, s.path, err)
	}

	state := domain.NewRiskState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ports.ErrStateUnavailable, s.path, err)
	}
	return state, nil
}

// Save atomically overwrites the snapshot.
func (s *Store) Save(ctx context.Context, state *domain.RiskState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal risk state: %v", ports.ErrStateUnavailable, err)
	}
	if err := writeAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStateUnavailable, err)
	}
	return nil
}
