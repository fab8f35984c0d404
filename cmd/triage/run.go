package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/config"
	"github.com/steveyegge/triage/internal/control"
	"github.com/steveyegge/triage/internal/metrics"
	"github.com/steveyegge/triage/internal/pipeline"
	"github.com/steveyegge/triage/internal/storage"
	"github.com/steveyegge/triage/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the triage loop until interrupted",
	Long: `Start the pipeline loop. Every tick:
1. Ingests each enabled source's next window from Loki
2. Fingerprints the failures seen over the analysis lookback
3. Analyzes up to MAX_CANDIDATES new fingerprints with Claude
4. Files one GitHub issue per new fingerprint

Only one loop may run against a database; a lock file enforces this.
A control socket next to the lock accepts 'triage pause', 'resume' and
'trigger'. Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		healthCheck, _ := cmd.Flags().GetBool("health-check")
		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		lock := lockPath()
		if err := storage.AcquireInstanceLock(lock, version); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if err := storage.ReleaseInstanceLock(lock); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to release instance lock: %v\n", err)
			}
		}()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		tp, err := telemetry.NewProvider(ctx, cfg.OTLPEndpoint, "triage", false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to set up tracing: %v\n", err)
			os.Exit(1)
		}
		tp.SetGlobal()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to flush traces: %v\n", err)
			}
		}()

		if cfg.SourcesFile != "" {
			loader := config.NewSourcesLoader(cfg.SourcesFile, store, logger)
			n, err := loader.Sync(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Loaded %d source(s) from %s\n", green("✓"), n, cfg.SourcesFile)

			stopWatch, err := loader.Watch(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: not watching %s: %v\n", cfg.SourcesFile, err)
			} else {
				defer stopWatch()
			}
		}

		seeded, err := pipeline.EnsureDefaultSource(ctx, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if seeded {
			fmt.Printf("%s No sources configured, created %s\n", green("✓"), cyan(pipeline.DefaultSourceID))
		}

		svc, err := buildOrchestrator(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if healthCheck {
			if err := svc.analyzer.HealthCheck(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: analyzer health check failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Analyzer reachable (model %s)\n", green("✓"), svc.analyzer.Model())
		}

		var metricsSrv *http.Server
		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "err", err)
				}
			}()
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		runner := pipeline.NewRunner(svc.orch, cfg.Tick(), cfg.Retention())
		if err := runner.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
			os.Exit(1)
		}

		ctl, err := control.NewServer(socketPath(), &loopControl{runner: runner, budget: svc.budget}, logger)
		if err == nil {
			err = ctl.Start(ctx)
		}
		if err != nil {
			// The loop works without it; only pause/resume/trigger are lost
			fmt.Fprintf(os.Stderr, "warning: control socket unavailable: %v\n", err)
			ctl = nil
		}

		fmt.Printf("%s Triage loop started (version %s)\n", green("✓"), cyan(version))
		fmt.Printf("  Tick every %v, analysis lookback %v, watermark %v\n", cfg.Tick(), cfg.Lookback(), cfg.Watermark())
		fmt.Printf("  Publishing to github.com/%s/%s\n", cfg.GitHubOwner, cfg.GitHubRepo)
		if metricsSrv != nil {
			fmt.Printf("  Metrics on %s/metrics\n", cfg.MetricsAddr)
		}
		if svc.budget.Enabled() {
			fmt.Printf("  Reasoning budget %s tokens / $%.2f per %s\n",
				formatNumber(int(cfg.Budget().MaxTokensPerHour)), cfg.Budget().MaxCostPerHour, cfg.Budget().ResetInterval)
		}
		fmt.Printf("  Press Ctrl+C to stop\n\n")

		select {
		case <-sigCh:
		case <-runner.Done():
		}
		fmt.Println("\nShutting down...")

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if ctl != nil {
			if err := ctl.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		if err := runner.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: error during shutdown: %v\n", err)
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}

		fmt.Printf("%s Stopped\n", green("✓"))
	},
}

func init() {
	runCmd.Flags().Bool("health-check", false, "Verify the analyzer can reach the API before starting")
	rootCmd.AddCommand(runCmd)
}
