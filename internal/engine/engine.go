// Package engine orchestrates the agent pipeline: PRD -> design ->
// tickets -> per-task implement/debug/review. Agents run in fixed
// order, outputs thread into inputs, and every intermediate artifact
// is persisted to the workspace and the run database.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shipline/internal/agent"
	"shipline/internal/config"
	"shipline/internal/domain"
	"shipline/internal/events"
	"shipline/internal/llm"
	"shipline/internal/repo"
	"shipline/internal/runner"
	"shipline/internal/workspace"

	pipeerr "shipline/internal/errors"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	WS     workspace.Workspace
	Log    *zap.Logger
	Now    func() time.Time

	designer *agent.Designer
	planner  *agent.Planner
	worker   *agent.Worker
	debugger *agent.Debugger
	reviewer *agent.Reviewer
}

func New(db *sql.DB, cfg *config.Config, client llm.Client, cmdRunner runner.CommandRunner, ws workspace.Workspace, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	params := func(a config.AgentConfig) agent.Params {
		return agent.Params{Temperature: a.Temperature, MaxTokens: cfg.MaxTokensFor(a)}
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		WS:     ws,
		Log:    log,
		Now:    time.Now,

		designer: agent.NewDesigner(client, params(cfg.Agents.Designer)),
		planner:  agent.NewPlanner(client, params(cfg.Agents.Planner)),
		worker:   agent.NewWorker(client, params(cfg.Agents.Worker)),
		debugger: agent.NewDebugger(client, cmdRunner, ws, agent.DebugOptions{
			Params:        params(cfg.Agents.Debugger),
			MaxIterations: cfg.Debug.MaxIterations,
			TestCommand:   cfg.Debug.TestCommand,
			TestTimeout:   time.Duration(cfg.Debug.TimeoutSeconds) * time.Second,
			Logger:        log,
		}),
		reviewer: agent.NewReviewer(client, params(cfg.Agents.Reviewer)),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RunOptions control one pipeline execution.
type RunOptions struct {
	// Parallel bounds the per-task fan-out; design and planning stay
	// strictly sequential, as does each task's retry loop.
	Parallel int
	// RequireReview stops the pipeline after the design phase until a
	// human approves the design.
	RequireReview bool
}

// TaskFailure records a task whose pipeline halted on a fatal error.
type TaskFailure struct {
	TaskID string
	Err    error
}

// RunResult is the final state of one pipeline execution.
type RunResult struct {
	Run            domain.Run
	Design         domain.Design
	Epics          []domain.Epic
	PullRequests   []domain.PullRequest
	Failures       []TaskFailure
	AwaitingReview bool
}

// CreateRun registers a new pipeline run for a PRD.
func (e Engine) CreateRun(ctx context.Context, prd domain.PRD) (domain.Run, error) {
	if err := prd.Validate(); err != nil {
		return domain.Run{}, pipeerr.Wrap(pipeerr.EUsage, "invalid prd", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	run := domain.Run{
		ID:        uuid.New().String(),
		PRDTitle:  prd.Title,
		PRDLevel:  prd.Level,
		Workspace: e.WS.Root,
		Status:    domain.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "run.created", run.ID, "run", run.ID, "cli", events.EventPayload{"prd_title": prd.Title}); err != nil {
		return domain.Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

func (e Engine) setRunStatus(ctx context.Context, runID, status, errMsg string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRunStatus(ctx, tx, runID, status, errMsg); err != nil {
		return err
	}
	payload := events.EventPayload{"status": status}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	if err := e.Events.Append(ctx, tx, "run.updated", runID, "run", runID, "cli", payload); err != nil {
		return err
	}
	return tx.Commit()
}

// DesignPRD runs the designer and persists design.json. An empty
// runID skips database bookkeeping, which the standalone design
// command uses.
func (e Engine) DesignPRD(ctx context.Context, runID string, prd domain.PRD) (domain.Design, error) {
	design, err := e.designer.Design(ctx, prd)
	if err != nil {
		return domain.Design{}, err
	}
	if err := e.WS.SaveJSON(e.WS.DesignPath(), design); err != nil {
		return domain.Design{}, err
	}
	e.Log.Info("design created", zap.String("title", design.Title), zap.String("path", e.WS.DesignPath()))
	if runID == "" {
		return design, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return design, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "design.created", runID, "design", design.Title, "designer", events.EventPayload{
		"components": len(design.Components),
	}); err != nil {
		return design, err
	}
	return design, tx.Commit()
}

// ApproveDesign marks the workspace design as human-reviewed.
func (e Engine) ApproveDesign(notes string) (domain.Design, error) {
	var design domain.Design
	if err := e.WS.LoadJSON(e.WS.DesignPath(), &design); err != nil {
		return design, err
	}
	design.HumanReviewed = true
	if notes != "" {
		design.ReviewNotes = notes
	}
	if err := e.WS.SaveJSON(e.WS.DesignPath(), design); err != nil {
		return design, err
	}
	return design, nil
}

// PlanDesign runs the planner and persists tickets.json plus the
// ticket hierarchy in the database.
func (e Engine) PlanDesign(ctx context.Context, runID string, design domain.Design) ([]domain.Epic, error) {
	if !design.HumanReviewed {
		e.Log.Warn("design has not been marked as human-reviewed")
	}
	epics, err := e.planner.Plan(ctx, design)
	if err != nil {
		return nil, err
	}
	if err := e.WS.SaveJSON(e.WS.TicketsPath(), epics); err != nil {
		return nil, err
	}
	tasks := domain.AllTasks(epics)
	e.Log.Info("tickets created",
		zap.Int("epics", len(epics)), zap.Int("tasks", len(tasks)),
		zap.String("path", e.WS.TicketsPath()))
	if runID == "" {
		return epics, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTickets(ctx, tx, runID, epics); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "plan.created", runID, "plan", "", "planner", events.EventPayload{
		"epics": len(epics), "tasks": len(tasks),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return epics, nil
}

func (e Engine) setTaskStatus(ctx context.Context, runID, taskID, status, agentName string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, status); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", runID, "task", taskID, agentName, events.EventPayload{"status": status}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) savePR(ctx context.Context, runID string, pr domain.PullRequest, path, evtType, agentName string) error {
	if err := e.WS.SaveJSON(path, pr); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertPR(ctx, tx, runID, pr); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, runID, "pr", pr.ID, agentName, events.EventPayload{"status": pr.Status}); err != nil {
		return err
	}
	return tx.Commit()
}

// ProcessTask runs implement -> debug -> review for one task. The task
// ends done when its tests pass within budget, blocked otherwise. A
// fatal error (transport, schema parse, runner invocation) halts this
// task's pipeline and leaves it blocked; only test failures are
// retried, inside the debugger.
func (e Engine) ProcessTask(ctx context.Context, runID string, task domain.Task) (domain.PullRequest, error) {
	e.Log.Info("implementing task", zap.String("task", task.ID), zap.String("title", task.Title))
	if err := e.setTaskStatus(ctx, runID, task.ID, domain.StatusInProgress, "worker"); err != nil {
		return domain.PullRequest{}, err
	}
	fail := func(err error) (domain.PullRequest, error) {
		if stErr := e.setTaskStatus(ctx, runID, task.ID, domain.StatusBlocked, "debugger"); stErr != nil {
			e.Log.Error("mark task blocked", zap.String("task", task.ID), zap.Error(stErr))
		}
		return domain.PullRequest{}, err
	}

	files, notes, err := e.worker.Implement(ctx, task)
	if err != nil {
		return fail(err)
	}
	saved, err := e.WS.SaveFiles(task.ID, files)
	if err != nil {
		return fail(err)
	}
	e.Log.Info("implementation saved",
		zap.String("task", task.ID), zap.Int("files", len(saved)), zap.String("notes", notes))

	pr, result, err := e.debugger.Process(ctx, task, files)
	if err != nil {
		return fail(err)
	}
	if err := e.savePR(ctx, runID, pr, e.WS.PRPath(task.ID), "pr.created", "debugger"); err != nil {
		return fail(err)
	}
	status := domain.StatusDone
	if !result.Passed {
		status = domain.StatusBlocked
	}
	if err := e.setTaskStatus(ctx, runID, task.ID, status, "debugger"); err != nil {
		return pr, err
	}

	reviewed, err := e.reviewer.Review(ctx, pr, task, result.Files)
	if err != nil {
		// The PR exists and the task status is final; a review failure
		// does not undo the debug outcome.
		return pr, err
	}
	if err := e.savePR(ctx, runID, reviewed, e.WS.ReviewedPRPath(task.ID), "pr.reviewed", "reviewer"); err != nil {
		return reviewed, err
	}
	e.Log.Info("review complete",
		zap.String("task", task.ID), zap.String("status", reviewed.Status),
		zap.Int("comments", len(reviewed.ReviewComments)))
	return reviewed, nil
}

// RunPipeline executes the full workflow for one PRD. Task fan-out is
// bounded by opts.Parallel; each task owns its workspace subdirectory
// exclusively, so tasks never share mutable state.
func (e Engine) RunPipeline(ctx context.Context, prd domain.PRD, opts RunOptions) (RunResult, error) {
	if opts.Parallel < 1 {
		opts.Parallel = e.Config.Pipeline.Parallel
	}
	run, err := e.CreateRun(ctx, prd)
	if err != nil {
		return RunResult{}, err
	}
	res := RunResult{Run: run}
	if err := e.setRunStatus(ctx, run.ID, domain.RunRunning, ""); err != nil {
		return res, err
	}
	failRun := func(err error) (RunResult, error) {
		if stErr := e.setRunStatus(ctx, run.ID, domain.RunFailed, err.Error()); stErr != nil {
			e.Log.Error("mark run failed", zap.Error(stErr))
		}
		res.Run.Status = domain.RunFailed
		res.Run.Error = err.Error()
		return res, err
	}

	design, err := e.DesignPRD(ctx, run.ID, prd)
	if err != nil {
		return failRun(err)
	}
	if opts.RequireReview && !design.HumanReviewed {
		e.Log.Info("waiting for human review; approve the design and re-run",
			zap.String("path", e.WS.DesignPath()))
		res.Design = design
		res.AwaitingReview = true
		return res, e.setRunStatus(ctx, run.ID, domain.RunPending, "")
	}
	if !design.HumanReviewed {
		design.HumanReviewed = true
		if err := e.WS.SaveJSON(e.WS.DesignPath(), design); err != nil {
			return failRun(err)
		}
	}
	res.Design = design

	epics, err := e.PlanDesign(ctx, run.ID, design)
	if err != nil {
		return failRun(err)
	}
	res.Epics = epics

	tasks := domain.AllTasks(epics)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			pr, err := e.ProcessTask(gctx, run.ID, task)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.Log.Error("task pipeline halted", zap.String("task", task.ID), zap.Error(err))
				res.Failures = append(res.Failures, TaskFailure{TaskID: task.ID, Err: err})
				return nil
			}
			res.PullRequests = append(res.PullRequests, pr)
			return nil
		})
	}
	_ = g.Wait()

	if len(res.Failures) > 0 {
		summary := fmt.Sprintf("%d of %d tasks failed", len(res.Failures), len(tasks))
		if err := e.setRunStatus(ctx, run.ID, domain.RunFailed, summary); err != nil {
			return res, err
		}
		res.Run.Status = domain.RunFailed
		res.Run.Error = summary
		return res, nil
	}
	if err := e.setRunStatus(ctx, run.ID, domain.RunComplete, ""); err != nil {
		return res, err
	}
	res.Run.Status = domain.RunComplete
	return res, nil
}
