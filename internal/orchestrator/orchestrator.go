package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sallandpioneers/forgeflow/internal/config"
	"github.com/sallandpioneers/forgeflow/internal/detector"
	"github.com/sallandpioneers/forgeflow/internal/executor"
	"github.com/sallandpioneers/forgeflow/internal/monitor"
	"github.com/sallandpioneers/forgeflow/internal/phase"
	"github.com/sallandpioneers/forgeflow/internal/planner"
	"github.com/sallandpioneers/forgeflow/internal/progress"
	"github.com/sallandpioneers/forgeflow/internal/remote"
	"github.com/sallandpioneers/forgeflow/internal/report"
	"github.com/sallandpioneers/forgeflow/internal/retry"
	"github.com/sallandpioneers/forgeflow/internal/security"
	"github.com/sallandpioneers/forgeflow/internal/worker"
	"github.com/sallandpioneers/forgeflow/internal/workspace"
)

// Orchestrator sequences a run over the backlog: resolve the
// implementation order, drive each issue through the executor strictly
// sequentially, and aggregate the results. One issue's failure never
// aborts the run.
type Orchestrator struct {
	cfg      *config.Config
	client   remote.Client
	worker   worker.Invoker
	executor *executor.Executor
	resolver *planner.Resolver
	reports  *report.Writer
	logger   *log.Logger

	workspaces *workspace.Manager
	transport  retry.Options
}

// New wires up an orchestrator from configuration
func New(cfg *config.Config, client remote.Client, logger *log.Logger) (*Orchestrator, error) {
	reports, err := report.NewWriter(cfg.Report.Dir)
	if err != nil {
		return nil, err
	}

	workerClient := worker.NewClient(cfg.Worker.Command, cfg.Worker.Timeout)
	det := detector.New(cfg.Detector.ConfidenceThreshold)
	mon := monitor.New(client, cfg.Pipeline.PollInterval, cfg.Pipeline.Timeout, logger)
	workspaces := workspace.NewManager(cfg.Worker.BaseDir)
	transport := retry.TransportOptions(cfg.Retry)

	cloneURL := cfg.CloneURL
	if cloneURL == "" {
		cloneURL = fmt.Sprintf("https://gitlab.com/%s.git", cfg.Project)
	}

	exec := executor.New(client, workerClient, det, mon, workspaces, logger, executor.Options{
		MaxRetries: cfg.Retry.MaxAttempts,
		BaseDelay:  cfg.Retry.BaseDelay,
		BaseBranch: cfg.Defaults.BaseBranch,
		CloneURL:   cloneURL,
		Transport:  transport,
	})

	return &Orchestrator{
		cfg:        cfg,
		client:     client,
		worker:     workerClient,
		executor:   exec,
		resolver:   planner.NewResolver(cfg.Detector.KeywordIssues, logger),
		reports:    reports,
		logger:     logger,
		workspaces: workspaces,
		transport:  transport,
	}, nil
}

// Run processes the whole backlog once and returns the run summary
func (o *Orchestrator) Run(ctx context.Context) (*report.RunSummary, error) {
	summary := &report.RunSummary{
		RunID:     uuid.NewString(),
		Project:   o.cfg.Project,
		StartedAt: time.Now(),
	}

	issues, err := retry.DoWithResult(ctx, o.transport, func() ([]*remote.Issue, error) {
		return o.client.FetchOpenIssues(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open issues: %w", err)
	}

	if len(o.cfg.AllowedAuthors) > 0 {
		eligible := issues[:0]
		for _, issue := range issues {
			if security.IsAuthorized(o.cfg.AllowedAuthors, issue.Author, o.logger) {
				eligible = append(eligible, issue)
			}
		}
		issues = eligible
	}

	if len(issues) == 0 {
		o.logger.Printf("no open issues")
		summary.FinishedAt = time.Now()
		return summary, o.reports.WriteSummary(summary)
	}

	plan := o.ensurePlan(ctx, issues)
	planSummary := ""
	if plan != nil {
		planSummary = plan.Summary
	}

	ordered := o.resolver.Resolve(issues, plan)
	o.logger.Printf("processing %d issues in order %s", len(ordered), orderString(ordered))

	for _, issue := range ordered {
		// Cooperative stop: finish at an issue boundary rather than
		// mid-API-call
		if ctx.Err() != nil {
			o.logger.Printf("run stopped before issue #%d", issue.IID)
			break
		}

		rep := progress.NewReporter(o.client, issue.IID,
			o.cfg.Progress.DebounceInterval, o.cfg.Progress.Enabled)

		r := o.executor.Run(ctx, issue, planSummary, rep)
		if err := o.reports.WriteIssue(r); err != nil {
			o.logger.Printf("failed to write report for #%d: %v", issue.IID, err)
		}

		switch r.Status {
		case report.StatusCompleted:
			summary.Completed = append(summary.Completed, issue.IID)
		case report.StatusSkipped:
			summary.Skipped = append(summary.Skipped, issue.IID)
		default:
			summary.Failed = append(summary.Failed, issue.IID)
			o.logger.Printf("issue #%d failed [%s]: %s", issue.IID, r.LastCategory, r.LastFailure)
		}
	}

	if total := summary.Total(); total > 0 {
		summary.SuccessRate = float64(len(summary.Completed)+len(summary.Skipped)) / float64(total)
	}
	summary.FinishedAt = time.Now()

	o.logger.Printf("run %s: %d completed, %d failed, %d skipped",
		summary.RunID, len(summary.Completed), len(summary.Failed), len(summary.Skipped))

	return summary, o.reports.WriteSummary(summary)
}

// ensurePlan loads the plan document from the repository, running the
// global Planning phase to create one when it is missing. Any failure
// along the way degrades to heuristic dependency extraction; planning
// problems never abort the run.
func (o *Orchestrator) ensurePlan(ctx context.Context, issues []*remote.Issue) *planner.Plan {
	data, err := o.client.GetFile(ctx, o.cfg.Planning.PlanPath, o.cfg.Defaults.BaseBranch)
	if err == nil {
		plan, perr := planner.ParsePlan(data)
		if perr != nil {
			o.logger.Printf("%v, falling back to heuristic ordering", perr)
			return nil
		}
		return plan
	}
	if !remote.IsNotFound(err) {
		o.logger.Printf("failed to read plan document: %v, falling back to heuristic ordering", err)
		return nil
	}

	// Plan file not found means "create it", not "abort"
	o.logger.Printf("no plan document at %s, running planning phase", o.cfg.Planning.PlanPath)
	return o.createPlan(ctx, issues)
}

// createPlan runs the Planning phase once for the whole backlog and
// persists the resulting plan document
func (o *Orchestrator) createPlan(ctx context.Context, issues []*remote.Issue) *planner.Plan {
	ws, err := o.workspaces.Get(0)
	if err != nil {
		o.logger.Printf("planning workspace unavailable: %v", err)
		return o.fallbackPlan(ctx, issues)
	}

	output, err := o.worker.Invoke(ctx, phase.Planning, formatBacklog(issues), worker.Context{
		WorkDir: ws.Root,
	})
	if err != nil {
		o.logger.Printf("planning phase failed: %v", err)
		return o.fallbackPlan(ctx, issues)
	}

	det := detector.New(o.cfg.Detector.ConfidenceThreshold)
	if res := det.CheckPhaseCompletion(phase.Planning, output); !res.Success {
		o.logger.Printf("planning phase not confirmed: %s", res.Reason)
		return o.fallbackPlan(ctx, issues)
	}

	// The worker may have committed the plan itself; otherwise derive one
	if data, err := o.client.GetFile(ctx, o.cfg.Planning.PlanPath, o.cfg.Defaults.BaseBranch); err == nil {
		if plan, perr := planner.ParsePlan(data); perr == nil {
			return plan
		}
	}
	return o.fallbackPlan(ctx, issues)
}

// fallbackPlan derives a plan from heuristic dependency extraction and
// stores it so later runs agree on the order
func (o *Orchestrator) fallbackPlan(ctx context.Context, issues []*remote.Issue) *planner.Plan {
	ordered := o.resolver.Resolve(issues, nil)

	plan := &planner.Plan{
		Summary: fmt.Sprintf("Derived from issue prerequisites over %d open issues", len(issues)),
	}
	for _, issue := range ordered {
		plan.Order = append(plan.Order, issue.IID)
	}

	data, err := plan.Encode()
	if err != nil {
		o.logger.Printf("failed to encode plan: %v", err)
		return plan
	}
	if err := o.client.CreateOrUpdateFile(ctx, o.cfg.Planning.PlanPath, o.cfg.Defaults.BaseBranch,
		string(data), "Add implementation plan"); err != nil {
		o.logger.Printf("failed to store plan document: %v", err)
	}
	return plan
}

func formatBacklog(issues []*remote.Issue) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Backlog of %d open issues:\n\n", len(issues)))
	for _, issue := range issues {
		sb.WriteString(fmt.Sprintf("- #%d %s\n", issue.IID, issue.Title))
	}
	return sb.String()
}

func orderString(issues []*remote.Issue) string {
	parts := make([]string, len(issues))
	for i, issue := range issues {
		parts[i] = fmt.Sprintf("#%d", issue.IID)
	}
	return strings.Join(parts, " ")
}
