package melt

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meltworks/melt/pkg/elt"
	"github.com/meltworks/melt/pkg/metrics"
)

var (
	prometheusEnabled bool
	prometheusAddr    string
)

var eltCmd = &cobra.Command{
	Use:     "elt <extractor> [loader...]",
	Aliases: []string{"run"},
	Short:   "Run an ELT pipeline",
	Long: `Run an ELT pipeline: extract records from the named extractor and
fan them out to the named loaders. With no loaders given, every loader
declared in the manifest receives the stream.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runELT,
}

func runELT(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	if prometheusEnabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: prometheusAddr, Logger: logger})
	}

	m, err := loadManifest()
	if err != nil {
		return err
	}

	runner := &elt.Runner{
		Manifest: m,
		Registry: newRegistry(),
		States:   elt.NewStateStore(cfg.StateDir),
		Logger:   logger,
	}

	resultChan := make(chan *elt.Result, 1)
	errChan := make(chan error, 1)
	go func() {
		result, err := runner.Run(ctx, args[0], args[1:])
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- result
	}()

	var result *elt.Result
	select {
	case <-sigChan:
		logger.Info("received termination signal, shutting down gracefully")
		cancel()
		select {
		case result = <-resultChan:
		case err = <-errChan:
		case <-time.After(10 * time.Second):
			logger.Warn("shutdown timed out after 10 seconds")
			return nil
		}
	case result = <-resultChan:
	case err = <-errChan:
	}
	if err != nil {
		return err
	}

	// Stop the metrics server before waiting on it.
	cancel()
	wg.Wait()

	logger.Info("run finished",
		zap.String("run_id", result.RunID),
		zap.Int64("records", result.ExtractedRecords),
		zap.Int("loader_errors", len(result.LoaderErrors)))

	if result.Failed() {
		for name, lerr := range result.LoaderErrors {
			logger.Error("loader failed", zap.String("loader", name), zap.Error(lerr))
		}
		return fmt.Errorf("%d loader(s) failed", len(result.LoaderErrors))
	}
	return nil
}

func init() {
	eltCmd.Flags().BoolVar(&prometheusEnabled, "metrics", false, "Enable Prometheus metrics server")
	eltCmd.Flags().StringVar(&prometheusAddr, "metrics-addr", ":9100", "Prometheus metrics server address")
}
