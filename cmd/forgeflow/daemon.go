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

func daemonCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run continuously, polling for new open issues",
		Long: `Run Forgeflow as a daemon that repeatedly processes the open issue
backlog at the configured poll interval.

Example:
  forgeflow daemon --project group/repo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(project)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "GitLab project (group/repo), overrides config")

	return cmd
}

func runDaemon(project string) error {
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

	daemon, err := orchestrator.NewDaemon(cfg, client, logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
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

	return daemon.Run(ctx)
}
