// riskctl is the operator CLI for inspecting and resetting risk state.
// Circuit-breaker and emergency-stop conditions are never auto-cleared;
// every reset here requires an operator reason and leaves a safety event.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"capguard/config"
	"capguard/internal/adapters/logger"
	"capguard/internal/adapters/sqlite"
	"capguard/internal/adapters/statefile"
	"capguard/internal/domain"
	"capguard/internal/id"
)

type toolkit struct {
	states *statefile.Store
	repo   *sqlite.Repository
}

func openToolkit() (*toolkit, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	appLogger := logger.NewStdLogger("riskctl", logger.LevelWarn)

	states, err := statefile.NewStore(statefile.StoreConfig{Path: cfg.RiskStatePath, Logger: appLogger})
	if err != nil {
		return nil, nil, err
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return nil, nil, err
	}
	return &toolkit{states: states, repo: repo}, func() { repo.Close() }, nil
}

func (t *toolkit) appendEvent(ctx context.Context, evType domain.SafetyEventType, reason, action string) error {
	return t.repo.Append(ctx, &domain.SafetyEvent{
		EventID:     id.New(),
		Timestamp:   time.Now().UTC(),
		Type:        evType,
		Details:     map[string]interface{}{"operator_reason": reason},
		ActionTaken: action,
	})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current risk state and recent safety events",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, closeFn, err := openToolkit()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx := cmd.Context()

			state, err := t.states.Load(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("daily_loss:            %.2f\n", state.DailyLoss)
			fmt.Printf("consecutive_losses:    %d\n", state.ConsecutiveLosses)
			fmt.Printf("emergency_stop:        %v\n", state.EmergencyStop)
			fmt.Printf("circuit_breaker:       %v\n", state.CircuitBreakerTriggered)
			if state.CircuitBreakerTimestamp != nil {
				fmt.Printf("circuit_breaker_since: %s\n", state.CircuitBreakerTimestamp.UTC().Format(time.RFC3339))
			}
			fmt.Printf("open_trades:           %d (exposure %.2f)\n", len(state.OpenTrades), state.TotalExposure())
			for _, p := range state.OpenTrades {
				fmt.Printf("  %s %s capital_at_risk=%.2f since %s\n",
					p.TradeID, p.Symbol, p.CapitalAtRisk, p.EntryTime.UTC().Format(time.RFC3339))
			}

			events, err := t.repo.Recent(ctx, 10)
			if err != nil {
				return err
			}
			fmt.Printf("\nrecent safety events:\n")
			for _, ev := range events {
				fmt.Printf("  %s %-22s %s\n", ev.Timestamp.UTC().Format(time.RFC3339), ev.Type, ev.ActionTaken)
			}
			return nil
		},
	}
}

func resetBreakerCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reset-breaker",
		Short: "Clear the circuit breaker after human review",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, closeFn, err := openToolkit()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx := cmd.Context()

			state, err := t.states.Load(ctx)
			if err != nil {
				return err
			}
			if !state.CircuitBreakerTriggered {
				fmt.Println("circuit breaker is not tripped")
				return nil
			}
			state.CircuitBreakerTriggered = false
			state.CircuitBreakerTimestamp = nil
			state.UpdatedAt = time.Now().UTC()
			if err := t.states.Save(ctx, state); err != nil {
				return err
			}
			if err := t.appendEvent(ctx, domain.EventBreakerReset, reason, "circuit breaker reset by operator"); err != nil {
				return err
			}
			fmt.Println("circuit breaker reset")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the breaker is safe to reset (required)")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func clearEmergencyCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "clear-emergency",
		Short: "Clear the emergency stop flag after human review",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, closeFn, err := openToolkit()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx := cmd.Context()

			state, err := t.states.Load(ctx)
			if err != nil {
				return err
			}
			if !state.EmergencyStop {
				fmt.Println("emergency stop is not set")
				return nil
			}
			state.EmergencyStop = false
			state.UpdatedAt = time.Now().UTC()
			if err := t.states.Save(ctx, state); err != nil {
				return err
			}
			if err := t.appendEvent(ctx, domain.EventEmergencyStopCleared, reason, "emergency stop cleared by operator"); err != nil {
				return err
			}
			fmt.Println("emergency stop cleared")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the emergency stop is safe to clear (required)")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func resetDailyCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reset-daily",
		Short: "Zero the daily loss and consecutive-loss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, closeFn, err := openToolkit()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx := cmd.Context()

			state, err := t.states.Load(ctx)
			if err != nil {
				return err
			}
			state.DailyLoss = 0
			state.ConsecutiveLosses = 0
			state.UpdatedAt = time.Now().UTC()
			if err := t.states.Save(ctx, state); err != nil {
				return err
			}
			if err := t.appendEvent(ctx, domain.EventDailyReset, reason, "daily counters reset by operator"); err != nil {
				return err
			}
			fmt.Println("daily counters reset")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the counters are being reset (required)")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:          "riskctl",
		Short:        "Inspect and reset the trading risk state",
		SilenceUsage: true,
	}
	root.AddCommand(statusCmd(), resetBreakerCmd(), clearEmergencyCmd(), resetDailyCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
