package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesExitCode(t *testing.T) {
	r := NewRealRunner()
	res, err := r.Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2; exit 3"}, RunOpts{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "out") || !strings.Contains(res.Stderr, "err") {
		t.Fatalf("captured %q / %q", res.Stdout, res.Stderr)
	}
}

func TestRunSuccess(t *testing.T) {
	r := NewRealRunner()
	res, err := r.Run(context.Background(), "sh", []string{"-c", "true"}, RunOpts{})
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("run: %v code=%d", err, res.ExitCode)
	}
}

func TestRunCanceledContextIsInvocationError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRealRunner()
	res, err := r.Run(ctx, "sleep", []string{"5"}, RunOpts{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got res=%+v err=%v", res, err)
	}
}

func TestRunDeadlineExceededIsInvocationError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r := NewRealRunner()
	res, err := r.Run(ctx, "sleep", []string{"5"}, RunOpts{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want context.DeadlineExceeded, got res=%+v err=%v", res, err)
	}
}

func TestRunMissingBinaryIsInvocationError(t *testing.T) {
	r := NewRealRunner()
	if _, err := r.Run(context.Background(), "definitely-not-a-binary-1b2c", nil, RunOpts{}); err == nil {
		t.Fatal("expected invocation error")
	}
}

func TestRunRespectsDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	r := NewRealRunner()
	res, err := r.Run(context.Background(), "sh", []string{"-c", "pwd; echo $SHIPLINE_TEST_VAR"}, RunOpts{
		Dir: dir,
		Env: map[string]string{"SHIPLINE_TEST_VAR": "hello"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(res.Stdout, dir) || !strings.Contains(res.Stdout, "hello") {
		t.Fatalf("stdout %q", res.Stdout)
	}
}

func TestCombined(t *testing.T) {
	if got := (CmdResult{Stdout: "a", Stderr: "b"}).Combined(); got != "a\nb" {
		t.Fatalf("combined %q", got)
	}
	if got := (CmdResult{Stderr: "b"}).Combined(); got != "b" {
		t.Fatalf("combined %q", got)
	}
}

func TestLookCommand(t *testing.T) {
	if _, err := LookCommand([]string{"sh", "-c", "true"}); err != nil {
		t.Fatalf("sh should resolve: %v", err)
	}
	if _, err := LookCommand(nil); err == nil {
		t.Fatal("empty command should error")
	}
}
