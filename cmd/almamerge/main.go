// Package main provides almamerge, which merges duplicate Alma user
// accounts listed in an instruction table.
//
// Usage:
//
//	almamerge <instruction-file.xlsx|csv>
//
// The configuration is read from almamerge.yaml, or from the file named by
// ALMAMERGE_CONFIG, and from the environment (see pkg/config).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/slsp/almamerge/pkg/alma"
	"github.com/slsp/almamerge/pkg/batch"
	"github.com/slsp/almamerge/pkg/browser"
	"github.com/slsp/almamerge/pkg/config"
	"github.com/slsp/almamerge/pkg/logging"
	"github.com/slsp/almamerge/pkg/merger"
	"github.com/slsp/almamerge/pkg/sheet"
	"github.com/slsp/almamerge/pkg/staff"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	// The run stops between rows so the table stays consistent
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go handleSignals(sigChan, cancel, func() { signal.Stop(sigChan) }, os.Stdout)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
	cancel()
}

// handleSignals cancels the run on the first signal and restores the
// default handlers, so a second signal kills a run stuck in a browser wait.
func handleSignals(sigs <-chan os.Signal, cancel context.CancelFunc, restore func(), out io.Writer) {
	<-sigs
	restore()
	fmt.Fprintln(out, "\nStopping after the current row, interrupt again to quit now...")
	cancel()
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "almamerge <instruction-file>",
		Short: "Merge duplicate Alma user accounts",
		Long: `almamerge reads a table of merge instructions (columns zone, from_user and
to_user) and merges each pair through the Alma merge users job, one zone at a
time. Progress is written back to the Merge_status column after every row, so
running the same file again resumes where the last run stopped.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}
}

func run(ctx context.Context, inputPath string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// On error the logger falls back to stdout and says so
	logger, _ := logging.NewLogger(cfg.LogDir, inputPath, "almamerge")
	defer logger.Close()
	logger.Infof("Run %s in environment %s", logger.RunID(), cfg.Environment)

	table, err := sheet.Load(inputPath)
	if err != nil {
		logger.Errorf("Cannot read instruction file: %v", err)
		return err
	}
	defer table.Close()

	client := alma.NewHTTPClient(cfg.APIBaseURL, cfg.APIKey)
	provisioner, err := staff.NewProvisioner(cfg, client, logger.With("staff"))
	if err != nil {
		logger.Errorf("Cannot load staff template: %v", err)
		return err
	}

	manager := browser.NewSessionManager()
	if err := manager.Initialize(); err != nil {
		logger.Errorf("Cannot start browser driver: %v", err)
		return err
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Warnf("Browser driver shutdown: %v", err)
		}
	}()

	launcher := merger.NewBrowserLauncher(manager, cfg.Browser)
	open := func(identity *staff.Identity) (batch.Session, error) {
		m, err := merger.Open(cfg, launcher, client, identity, logger.With("merger"))
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	orchestrator := batch.New(cfg, provisioner, open, logger.With("batch"))
	summary, runErr := orchestrator.Run(ctx, table)
	logger.Infof("%s", summary)

	if cfg.Summary {
		path, err := batch.WriteSummary(cfg.LogDir, summary)
		if err != nil {
			logger.Warnf("Cannot write run summary: %v", err)
		} else {
			logger.Infof("Run summary written to %s", path)
		}
	}

	if runErr != nil {
		logger.Errorf("Run stopped: %v", runErr)
	}
	return runErr
}
