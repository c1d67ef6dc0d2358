package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"shipline/internal/domain"
	"shipline/internal/llm"
	"shipline/internal/runner"
	"shipline/internal/workspace"

	pipeerr "shipline/internal/errors"
)

// Debug loop states: testing -> passing or fixing; fixing -> testing.
// Terminal states are done (tests pass, PR opens) and doneDraft
// (budget exhausted, PR stays a draft).
const (
	stateTesting = "testing"
	stateFixing  = "fixing"
)

// Debugger runs the bounded test/fix retry loop for one task and turns
// the outcome into a pull request. Iterations are strictly sequential;
// the loop owns the task's workspace subdirectory exclusively while it
// runs.
type Debugger struct {
	llm           llm.Client
	runner        runner.CommandRunner
	ws            workspace.Workspace
	params        Params
	maxIterations int
	testCommand   []string
	testTimeout   time.Duration
	log           *zap.Logger
	Now           func() time.Time
}

// DebugOptions configure the retry loop. Every value is explicit so
// tests can inject deterministic budgets and commands.
type DebugOptions struct {
	Params        Params
	MaxIterations int
	TestCommand   []string
	TestTimeout   time.Duration
	Logger        *zap.Logger
}

func NewDebugger(c llm.Client, r runner.CommandRunner, ws workspace.Workspace, opts DebugOptions) *Debugger {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 5
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Debugger{
		llm:           c,
		runner:        r,
		ws:            ws,
		params:        opts.Params,
		maxIterations: opts.MaxIterations,
		testCommand:   opts.TestCommand,
		testTimeout:   opts.TestTimeout,
		log:           opts.Logger,
		Now:           time.Now,
	}
}

// DebugResult is the outcome of one retry loop.
type DebugResult struct {
	Passed      bool
	TestRuns    int
	FixRequests int
	Files       map[string]string
	LastOutput  string
}

type testOutcome struct {
	Passed bool
	Output string
}

// runTests executes the configured test command against the task's
// workspace subdirectory. An invocation failure (missing interpreter,
// canceled context) is returned as an E_TEST_RUNNER error, distinct
// from a failing test. Hitting the per-run timeout counts as a failing
// test run, not an invocation failure.
func (d *Debugger) runTests(ctx context.Context, taskID string) (testOutcome, error) {
	if len(d.testCommand) == 0 {
		return testOutcome{}, pipeerr.New(pipeerr.EUsage, "test command not configured")
	}
	runCtx, cancel := context.WithTimeout(ctx, d.testTimeout)
	defer cancel()

	res, err := d.runner.Run(runCtx, d.testCommand[0], d.testCommand[1:], runner.RunOpts{Dir: d.ws.TaskDir(taskID)})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			diagnostic := fmt.Sprintf("tests timed out after %s\n%s", d.testTimeout, res.Combined())
			return testOutcome{Passed: false, Output: diagnostic}, nil
		}
		return testOutcome{}, pipeerr.Wrap(pipeerr.ETestRunner,
			fmt.Sprintf("test runner invocation failed for task %s", taskID), err)
	}
	if res.ExitCode == 0 {
		return testOutcome{Passed: true, Output: res.Combined()}, nil
	}
	diagnostic := fmt.Sprintf("exit code %d\n%s", res.ExitCode, res.Combined())
	return testOutcome{Passed: false, Output: diagnostic}, nil
}

type fixWire struct {
	Analysis string     `json:"analysis"`
	Fixes    []fileWire `json:"fixes"`
}

// requestFix asks the model for updated file contents given the
// failure diagnostic. A fix that changes nothing is rejected.
func (d *Debugger) requestFix(ctx context.Context, task domain.Task, files map[string]string, diagnostic string) (map[string]string, error) {
	response, err := d.llm.Generate(ctx, llm.Request{
		System:      debuggerSystemPrompt,
		Prompt:      debuggerUserPrompt(task, files, diagnostic),
		Temperature: d.params.Temperature,
		MaxTokens:   d.params.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	var wire fixWire
	if err := llm.Decode(response, &wire); err != nil {
		return nil, err
	}
	if len(wire.Fixes) == 0 {
		return nil, pipeerr.Newf(pipeerr.ESchemaParse, "fix response for task %s contains no files", task.ID)
	}
	fixed := make(map[string]string, len(wire.Fixes))
	changed := false
	for _, f := range wire.Fixes {
		if f.Path == "" {
			return nil, pipeerr.Newf(pipeerr.ESchemaParse, "fix response for task %s has a file with empty path", task.ID)
		}
		if files[f.Path] != f.Content {
			changed = true
		}
		fixed[f.Path] = f.Content
	}
	if !changed {
		return nil, pipeerr.Newf(pipeerr.ESchemaParse, "fix response for task %s changed no files", task.ID)
	}
	if wire.Analysis != "" {
		d.log.Info("fix analysis", zap.String("task", task.ID), zap.String("analysis", wire.Analysis))
	}
	return fixed, nil
}

// Debug runs at most maxIterations test/fix cycles. Every failing
// iteration produces exactly one fix request and the fixed files are
// written to the task's workspace subdirectory before the next test
// run, so partial progress stays inspectable even on final failure.
func (d *Debugger) Debug(ctx context.Context, task domain.Task, initialFiles map[string]string) (DebugResult, error) {
	current := make(map[string]string, len(initialFiles))
	for k, v := range initialFiles {
		current[k] = v
	}
	result := DebugResult{Files: current}

	state := stateTesting
	for iteration := 1; iteration <= d.maxIterations; iteration++ {
		d.log.Info("debug iteration",
			zap.String("task", task.ID),
			zap.Int("iteration", iteration),
			zap.Int("budget", d.maxIterations),
			zap.String("state", state))

		outcome, err := d.runTests(ctx, task.ID)
		if err != nil {
			return result, err
		}
		result.TestRuns++
		result.LastOutput = outcome.Output
		if outcome.Passed {
			result.Passed = true
			d.log.Info("tests passed", zap.String("task", task.ID), zap.Int("iteration", iteration))
			return result, nil
		}

		state = stateFixing
		fixed, err := d.requestFix(ctx, task, current, outcome.Output)
		if err != nil {
			return result, err
		}
		result.FixRequests++
		if _, err := d.ws.SaveFiles(task.ID, fixed); err != nil {
			return result, err
		}
		for path, content := range fixed {
			current[path] = content
		}
		state = stateTesting
	}
	d.log.Warn("iteration budget exhausted",
		zap.String("task", task.ID), zap.Int("budget", d.maxIterations))
	return result, nil
}

// CreatePR builds the pull request record for a finished loop. Tests
// passing yields an open PR; an exhausted budget yields a draft with
// the last failure diagnostics attached.
func (d *Debugger) CreatePR(task domain.Task, result DebugResult) domain.PullRequest {
	now := d.Now().UTC().Format(time.RFC3339)
	paths := make([]string, 0, len(result.Files))
	for p := range result.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	description := fmt.Sprintf(`## Task: %s

%s

### Feature Requirements
%s

### Test Requirements
%s

### Success Metrics
%s

### Pass/Fail Criteria
%s
`,
		task.Title, task.Description, task.FeatureRequirements, task.TestRequirements,
		bulletList(task.SuccessMetrics), bulletList(task.PassFailCriteria))

	status := domain.PROpen
	if !result.Passed {
		status = domain.PRDraft
		description += "\n**Note:** Some tests are still failing. Review needed.\n"
	}
	return domain.PullRequest{
		ID:           "PR-" + task.ID,
		Title:        "Implement " + task.Title,
		Description:  description,
		TaskID:       task.ID,
		BranchName:   "feature/" + strings.ToLower(task.ID),
		FilesChanged: paths,
		TestResults:  result.LastOutput,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Process runs the full debug workflow for a task: test, fix within
// budget, and produce a pull request either way.
func (d *Debugger) Process(ctx context.Context, task domain.Task, files map[string]string) (domain.PullRequest, DebugResult, error) {
	result, err := d.Debug(ctx, task, files)
	if err != nil {
		return domain.PullRequest{}, result, err
	}
	pr := d.CreatePR(task, result)
	return pr, result, nil
}
