package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solstice-pim/resourcesync/pkg/config"
	"github.com/solstice-pim/resourcesync/pkg/log"
	"github.com/solstice-pim/resourcesync/pkg/metrics"
	"github.com/solstice-pim/resourcesync/pkg/reconciler"
	"github.com/solstice-pim/resourcesync/pkg/resource"
	"github.com/solstice-pim/resourcesync/pkg/resourceerr"
)

var startCmd = &cobra.Command{
	Use:   "start -f config.yaml",
	Short: "Start a resource process",
	Long: `Start loads a YAML configuration file, opens (or creates) the
resource instance's databases under -storage-root, and runs its event
loop until an interrupt signal or a fatal error.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringP("file", "f", "", "YAML config file (required)")
	config.BindFlags(startCmd)
	_ = startCmd.MarkFlagRequired("file")
}

func runStart(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	cfg, err := config.Load(filename)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyFlags(cfg, cmd)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	resLog := log.WithResource(cfg.InstanceID)
	resLog.Info().
		Str("storageRoot", cfg.StorageRoot).
		Dur("pollInterval", cfg.PollInterval).
		Msg("starting resource process")

	rc, err := resource.New(cfg.StorageRoot, cfg.InstanceID, resLog)
	if err != nil {
		return fmt.Errorf("failed to open resource: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rc.Start(ctx)

	var recon *reconciler.Reconciler
	if cfg.PollInterval > 0 {
		recon = reconciler.New(rc.Synchronizer(), cfg.PollInterval, log.WithComponent("reconciler"))
		recon.Start(ctx)
	}

	collector := metrics.NewCollector(rc)
	collector.Start()
	defer collector.Stop()

	metrics.SetCriticalComponents(rc.ComponentNames())
	for _, name := range rc.ComponentNames() {
		metrics.RegisterComponent(name, true, "")
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				resLog.Error().Err(err).Msg("metrics server stopped unexpectedly")
			}
		}()
		fmt.Printf("metrics listening on %s\n", cfg.MetricsAddr)
	}

	fmt.Printf("resourced running: instance=%s storage=%s\n", cfg.InstanceID, cfg.StorageRoot)
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case fatalErr := <-rc.Fatal():
		fmt.Fprintf(os.Stderr, "\nfatal resource error: %v\n", fatalErr)
		cancel()
		if recon != nil {
			recon.Stop()
		}
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
		rc.Stop()
		os.Exit(resourceerr.ExitCode(fatalErr))
	}

	cancel()
	shutdownDone := make(chan struct{})
	go func() {
		if recon != nil {
			recon.Stop()
		}
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
		rc.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		fmt.Println("✓ shutdown complete")
	case <-time.After(10 * time.Second):
		fmt.Fprintln(os.Stderr, "shutdown timed out")
		os.Exit(1)
	}

	return nil
}
