package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	logFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forgeflow",
		Short: "Orchestrate an AI worker to implement a GitLab issue backlog",
		Long: `Forgeflow drives an AI coding worker through an entire issue backlog.

It handles the full workflow:
- Planning: derive a dependency-aware implementation order for the backlog
- Coding: implement each issue on its own branch
- Testing: verify the work with CI evidence
- Review: open, review, and merge the merge request`,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file in addition to stdout")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("forgeflow v0.1.0")
		},
	}
}

// setupLogger builds the process logger. When path is non-empty the log is
// written to both stdout and the file; a file that cannot be opened falls
// back to stdout-only rather than failing the command. The returned cleanup
// closes the file handle.
func setupLogger(path string, verbose bool) (*log.Logger, func(), error) {
	flags := log.LstdFlags
	if verbose {
		flags |= log.Lshortfile
	}

	if path == "" {
		return log.New(os.Stdout, "[forgeflow] ", flags), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot create log directory: %v\n", err)
		return log.New(os.Stdout, "[forgeflow] ", flags), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open log file: %v\n", err)
		return log.New(os.Stdout, "[forgeflow] ", flags), func() {}, nil
	}

	logger := log.New(io.MultiWriter(os.Stdout, f), "[forgeflow] ", flags)
	return logger, func() { f.Close() }, nil
}
