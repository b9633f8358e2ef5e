package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start long running workers such as the overdue fine sweep.`,
}

var sweepWorkerCmd = &cobra.Command{
	Use:   "fine-sweep",
	Short: "Assess late fines on overdue records",
	Long:  `Periodically raise the fine on every unpaid record past its due date. With --once it runs a single pass and exits.`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweepWorker()
	},
}

var (
	sweepOnce     bool
	sweepInterval time.Duration
	sweepAsOf     string
)

func startSweepWorker() {
	cfg := mustLoadConfig()
	deps, err := initializeDependencies(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	if sweepOnce {
		asOf := time.Now().UTC()
		if sweepAsOf != "" {
			if asOf, err = time.Parse(time.DateOnly, sweepAsOf); err != nil {
				fmt.Fprintf(os.Stderr, "invalid --as-of date: %v\n", err)
				deps.Close()
				os.Exit(1)
			}
		}
		result, err := deps.Payments.AssessOverdue(context.Background(), asOf)
		if err != nil {
			deps.Logger.Error("fine sweep failed", "error", err)
			deps.Close()
			os.Exit(1)
		}
		fmt.Printf("scanned=%d raised=%d failed=%d\n", result.Scanned, result.Raised, result.Failed)
		return
	}

	interval := sweepInterval
	if interval <= 0 {
		interval = cfg.Worker.SweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		runSweepLoop(ctx, deps, interval)
		close(done)
	}()

	deps.Logger.Info("fine sweep worker is running. Press Ctrl+C to stop.", "interval", interval.String())

	sig := <-sigChan
	deps.Logger.Info("received signal, shutting down fine sweep worker", "signal", sig)
	cancel()

	select {
	case <-done:
		deps.Logger.Info("fine sweep worker shutdown complete")
	case <-time.After(30 * time.Second):
		deps.Logger.Warn("shutdown timeout reached, forcing exit")
	}
}

// runSweepLoop sweeps once immediately, then on every tick until ctx ends.
func runSweepLoop(ctx context.Context, deps *Dependencies, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := deps.Payments.AssessOverdue(ctx, time.Now().UTC()); err != nil {
			deps.Logger.Error("fine sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	sweepWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single sweep and exit")
	sweepWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "time between sweeps (overrides config)")
	sweepWorkerCmd.Flags().StringVar(&sweepAsOf, "as-of", "", "assess as of this date, YYYY-MM-DD (with --once)")

	workerCmd.AddCommand(sweepWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
