package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sallandpioneers/forgeflow/internal/config"
	"github.com/sallandpioneers/forgeflow/internal/orchestrator"
	"github.com/sallandpioneers/forgeflow/internal/remote"
)

func runCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the open issue backlog once",
		Long: `Process the open issue backlog in a single pass.

Issues are ordered by their prerequisites, then processed one at a
time through coding, testing, and review. The pass ends when every
issue has been completed, failed, or skipped.

Example:
  forgeflow run --project group/repo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(project)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "GitLab project (group/repo), overrides config")

	return cmd
}

func runOnce(project string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if project != "" {
		cfg.Project = project
	}
	if cfg.Project == "" {
		return fmt.Errorf("no project configured: set project in config or pass --project")
	}

	logFilePath := logFile
	if logFilePath == "" {
		logFilePath = cfg.LogFile
	}

	logger, cleanup, err := setupLogger(logFilePath, verbose)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer cleanup()

	client := remote.NewGitLabClient(cfg.Project)

	orch, err := orchestrator.New(cfg, client, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			logger.Println("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	logger.Printf("Run %s finished: %d completed, %d failed, %d skipped",
		summary.RunID, len(summary.Completed), len(summary.Failed), len(summary.Skipped))
	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d issue(s) failed", len(summary.Failed))
	}
	return nil
}
