package agent_test

import (
	"context"
	"testing"
	"time"

	"shipline/internal/agent"
	"shipline/internal/llm"
	"shipline/internal/runner"
	"shipline/internal/workspace"

	"shipline/internal/domain"
)

// fakeLLM returns scripted responses in order; the last one repeats.
type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i], nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

// fakeRunner returns scripted command results in order. A nil entry in
// errs yields the matching result; a non-nil entry simulates an
// invocation failure.
type fakeRunner struct {
	results []runner.CmdResult
	errs    []error
	calls   int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, opts runner.RunOpts) (runner.CmdResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return runner.CmdResult{}, f.errs[i]
	}
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], nil
}

func testWorkspace(t *testing.T) workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return ws
}

func testTask() domain.Task {
	return domain.Task{
		ID:                  "T1",
		Title:               "Add length validator",
		Description:         "Validate password length",
		FeatureRequirements: "Reject passwords shorter than 8 characters",
		TestRequirements:    "Unit tests for boundary lengths",
		SuccessMetrics:      []string{"all tests pass"},
		PassFailCriteria:    []string{"pytest exits 0"},
		Status:              domain.StatusTodo,
		Priority:            domain.PriorityHigh,
		StoryID:             "S1",
	}
}

func newDebugger(t *testing.T, l *fakeLLM, r *fakeRunner, ws workspace.Workspace, budget int) *agent.Debugger {
	t.Helper()
	d := agent.NewDebugger(l, r, ws, agent.DebugOptions{
		MaxIterations: budget,
		TestCommand:   []string{"pytest", "-v"},
		TestTimeout:   5 * time.Second,
	})
	d.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return d
}

func fixResponse(path, content string) string {
	return `{"analysis":"adjust boundary check","fixes":[{"path":"` + path + `","content":"` + content + `"}]}`
}
