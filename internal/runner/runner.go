// Package runner provides a stub-friendly boundary for running the
// external test command.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CmdResult holds the result of a command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout and stderr joined, the diagnostic text fed
// back to the model on test failure.
func (r CmdResult) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// RunOpts holds optional parameters for command execution.
type RunOpts struct {
	Dir string
	Env map[string]string
}

// CommandRunner runs external commands. A process that ran but exited
// non-zero yields a CmdResult and nil error; an error is returned only
// when the invocation itself failed (binary not found) or the context
// ended before the process did. The debug loop relies on this
// distinction.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error)
}

// LookCommand resolves the command's binary in PATH, a preflight check
// before any test run is attempted.
func LookCommand(command []string) (string, error) {
	if len(command) == 0 {
		return "", errors.New("empty command")
	}
	return exec.LookPath(command[0])
}

// RealRunner is the production CommandRunner using os/exec.
type RealRunner struct{}

func NewRealRunner() *RealRunner {
	return &RealRunner{}
}

func (r *RealRunner) Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = cmd.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	err := cmd.Run()
	result := CmdResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		// A process killed by context cancellation also surfaces as an
		// ExitError; report the context error so callers never mistake
		// an interrupted run for a real exit status.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}
	return result, nil
}
