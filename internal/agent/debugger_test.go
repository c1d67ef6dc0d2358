package agent_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shipline/internal/agent"
	"shipline/internal/domain"
	"shipline/internal/runner"

	pipeerr "shipline/internal/errors"
)

func TestDebugPassesAfterFixes(t *testing.T) {
	ws := testWorkspace(t)
	l := &fakeLLM{responses: []string{
		fixResponse("validator.py", "v2"),
		fixResponse("validator.py", "v3"),
		fixResponse("validator.py", "v4"),
	}}
	r := &fakeRunner{results: []runner.CmdResult{
		{Stdout: "1 failed", ExitCode: 1},
		{Stdout: "1 failed", ExitCode: 1},
		{Stdout: "1 failed", ExitCode: 1},
		{Stdout: "4 passed", ExitCode: 0},
	}}
	d := newDebugger(t, l, r, ws, 5)

	res, err := d.Debug(context.Background(), testTask(), map[string]string{"validator.py": "v1"})
	if err != nil {
		t.Fatalf("debug: %v", err)
	}
	if !res.Passed {
		t.Fatal("expected tests to pass")
	}
	if res.TestRuns != 4 || res.FixRequests != 3 {
		t.Fatalf("got %d test runs, %d fix requests; want 4 and 3", res.TestRuns, res.FixRequests)
	}
	if res.Files["validator.py"] != "v4" {
		t.Fatalf("final file content %q, want v4", res.Files["validator.py"])
	}
	if !strings.Contains(res.LastOutput, "4 passed") {
		t.Fatalf("last output %q should be the passing run", res.LastOutput)
	}
}

func TestDebugBudgetExhausted(t *testing.T) {
	ws := testWorkspace(t)
	l := &fakeLLM{responses: []string{
		fixResponse("validator.py", "v2"),
		fixResponse("validator.py", "v3"),
	}}
	r := &fakeRunner{results: []runner.CmdResult{
		{Stderr: "fail one", ExitCode: 1},
		{Stderr: "fail two", ExitCode: 2},
	}}
	d := newDebugger(t, l, r, ws, 2)

	res, err := d.Debug(context.Background(), testTask(), map[string]string{"validator.py": "v1"})
	if err != nil {
		t.Fatalf("debug: %v", err)
	}
	if res.Passed {
		t.Fatal("expected failure after budget exhaustion")
	}
	if res.TestRuns != 2 || res.FixRequests != 2 {
		t.Fatalf("got %d test runs, %d fix requests; want 2 and 2", res.TestRuns, res.FixRequests)
	}
	if !strings.Contains(res.LastOutput, "fail two") || !strings.Contains(res.LastOutput, "exit code 2") {
		t.Fatalf("last output %q should carry the final diagnostic", res.LastOutput)
	}

	pr := d.CreatePR(testTask(), res)
	if pr.Status != domain.PRDraft {
		t.Fatalf("pr status %q, want draft", pr.Status)
	}
	if !strings.Contains(pr.Description, "still failing") {
		t.Fatal("draft PR should note failing tests")
	}
	if !strings.Contains(pr.TestResults, "fail two") {
		t.Fatal("draft PR should carry the last failure output")
	}
}

func TestDebugRunnerInvocationFailureIsFatal(t *testing.T) {
	ws := testWorkspace(t)
	l := &fakeLLM{responses: []string{fixResponse("validator.py", "v2")}}
	r := &fakeRunner{errs: []error{errors.New("exec: \"pytest\": executable file not found in $PATH")}}
	d := newDebugger(t, l, r, ws, 5)

	res, err := d.Debug(context.Background(), testTask(), map[string]string{"validator.py": "v1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !pipeerr.HasCode(err, pipeerr.ETestRunner) {
		t.Fatalf("error %v should have code %s", err, pipeerr.ETestRunner)
	}
	if res.TestRuns != 0 || res.FixRequests != 0 {
		t.Fatalf("no iterations should count after invocation failure, got %d/%d", res.TestRuns, res.FixRequests)
	}
	if l.calls != 0 {
		t.Fatal("no fix should be requested after invocation failure")
	}
}

func TestDebugCanceledRunIsFatal(t *testing.T) {
	ws := testWorkspace(t)
	l := &fakeLLM{responses: []string{fixResponse("validator.py", "v2")}}
	r := &fakeRunner{errs: []error{context.Canceled}}
	d := newDebugger(t, l, r, ws, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := d.Debug(ctx, testTask(), map[string]string{"validator.py": "v1"})
	if !pipeerr.HasCode(err, pipeerr.ETestRunner) {
		t.Fatalf("canceled run should be a test runner error, got %v", err)
	}
	if res.TestRuns != 0 || l.calls != 0 {
		t.Fatalf("no test run or fix should count after cancellation, got %d/%d", res.TestRuns, l.calls)
	}
}

func TestDebugTimeoutCountsAsFailingRun(t *testing.T) {
	ws := testWorkspace(t)
	l := &fakeLLM{responses: []string{fixResponse("validator.py", "v2")}}
	r := &fakeRunner{
		errs:    []error{context.DeadlineExceeded, nil},
		results: []runner.CmdResult{{}, {Stdout: "ok", ExitCode: 0}},
	}
	d := newDebugger(t, l, r, ws, 3)

	res, err := d.Debug(context.Background(), testTask(), map[string]string{"validator.py": "v1"})
	if err != nil {
		t.Fatalf("a timed-out run is retryable, got %v", err)
	}
	if !res.Passed || res.TestRuns != 2 || res.FixRequests != 1 {
		t.Fatalf("got passed=%v runs=%d fixes=%d; want pass after one timeout", res.Passed, res.TestRuns, res.FixRequests)
	}
}

func TestDebugRejectsNoOpFix(t *testing.T) {
	ws := testWorkspace(t)
	l := &fakeLLM{responses: []string{fixResponse("validator.py", "v1")}}
	r := &fakeRunner{results: []runner.CmdResult{{Stdout: "1 failed", ExitCode: 1}}}
	d := newDebugger(t, l, r, ws, 3)

	_, err := d.Debug(context.Background(), testTask(), map[string]string{"validator.py": "v1"})
	if !pipeerr.HasCode(err, pipeerr.ESchemaParse) {
		t.Fatalf("no-op fix should be a schema error, got %v", err)
	}
}

func TestDebugWritesFixedFilesToWorkspace(t *testing.T) {
	ws := testWorkspace(t)
	l := &fakeLLM{responses: []string{fixResponse("validator.py", "v2")}}
	r := &fakeRunner{results: []runner.CmdResult{
		{Stdout: "1 failed", ExitCode: 1},
		{Stdout: "ok", ExitCode: 0},
	}}
	d := newDebugger(t, l, r, ws, 3)

	if _, err := d.Debug(context.Background(), testTask(), map[string]string{"validator.py": "v1"}); err != nil {
		t.Fatalf("debug: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(ws.TaskDir("T1"), "validator.py"))
	if err != nil {
		t.Fatalf("read fixed file: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("workspace file content %q, want v2", data)
	}
}

func TestCreatePROnPass(t *testing.T) {
	ws := testWorkspace(t)
	d := newDebugger(t, &fakeLLM{}, &fakeRunner{}, ws, 3)

	pr := d.CreatePR(testTask(), agent.DebugResult{
		Passed:     true,
		TestRuns:   1,
		Files:      map[string]string{"b.py": "x", "a.py": "y"},
		LastOutput: "2 passed",
	})
	if pr.Status != domain.PROpen {
		t.Fatalf("pr status %q, want open", pr.Status)
	}
	if pr.ID != "PR-T1" || pr.BranchName != "feature/t1" {
		t.Fatalf("unexpected identifiers %q %q", pr.ID, pr.BranchName)
	}
	if len(pr.FilesChanged) != 2 || pr.FilesChanged[0] != "a.py" {
		t.Fatalf("files changed should be sorted, got %v", pr.FilesChanged)
	}
	if err := pr.Validate(); err != nil {
		t.Fatalf("pr should validate: %v", err)
	}
}
