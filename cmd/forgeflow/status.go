package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sallandpioneers/forgeflow/internal/config"
	"github.com/sallandpioneers/forgeflow/internal/report"
)

func statusCmd() *cobra.Command {
	var issueIID int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the outcome of the latest run",
		Long: `Show the outcome of the latest run from the report directory.

If --issue is specified, shows the detailed report for that issue
including every phase attempt. Otherwise prints the run summary.

Example:
  forgeflow status
  forgeflow status --issue 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if issueIID > 0 {
				return showIssueReport(issueIID)
			}
			return showSummary()
		},
	}

	cmd.Flags().IntVar(&issueIID, "issue", 0, "Specific issue IID (optional)")

	return cmd
}

func showSummary() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	summary, err := report.LoadLatestSummary(cfg.Report.Dir)
	if err != nil {
		return fmt.Errorf("no run summary found in %s: %w", cfg.Report.Dir, err)
	}

	fmt.Printf("Run %s (%s)\n", summary.RunID, summary.Project)
	fmt.Printf("Started:  %s\n", summary.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Finished: %s\n", summary.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tISSUES")
	fmt.Fprintln(w, "-------\t------")
	fmt.Fprintf(w, "completed\t%s\n", issueList(summary.Completed))
	fmt.Fprintf(w, "failed\t%s\n", issueList(summary.Failed))
	fmt.Fprintf(w, "skipped\t%s\n", issueList(summary.Skipped))
	w.Flush()

	fmt.Println()
	fmt.Printf("Success rate: %.0f%% (%d issues)\n", summary.SuccessRate*100, summary.Total())
	return nil
}

func showIssueReport(iid int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	r, err := report.LoadIssueReport(cfg.Report.Dir, iid)
	if err != nil {
		return fmt.Errorf("no report for issue %d in %s: %w", iid, cfg.Report.Dir, err)
	}

	fmt.Printf("Issue #%d: %s\n", r.IssueIID, r.Title)
	fmt.Printf("Status: %s\n", r.Status)
	if r.Branch != "" {
		fmt.Printf("Branch: %s\n", r.Branch)
	}
	fmt.Printf("Attempts: %d\n", r.Attempts)
	if r.LastFailure != "" {
		fmt.Printf("Last failure [%s]: %s\n", r.LastCategory, r.LastFailure)
	}

	if len(r.PhaseAttempts) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PHASE\tATTEMPT\tRESULT\tCONFIDENCE\tDETAIL")
		fmt.Fprintln(w, "-----\t-------\t------\t----------\t------")
		for _, pa := range r.PhaseAttempts {
			result := "ok"
			if !pa.Success {
				result = "failed"
			}
			detail := pa.Reason
			if pa.Category != "" {
				detail = fmt.Sprintf("[%s] %s", pa.Category, detail)
			}
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%.2f\t%s\n", pa.Phase, pa.Attempt, result, pa.Confidence, detail)
		}
		w.Flush()
	}

	return nil
}

func issueList(iids []int) string {
	if len(iids) == 0 {
		return "-"
	}
	s := ""
	for i, iid := range iids {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("#%d", iid)
	}
	return s
}
