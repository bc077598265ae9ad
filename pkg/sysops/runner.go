// Package sysops provides the mutation primitives workflow steps are built
// from: a context-aware command runner, an HTTP downloader and file copy
// helpers. Every primitive reports failures as classified engine errors so
// step outcomes map directly to exit codes.
package sysops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// CommandSpec describes one command invocation.
type CommandSpec struct {
	// Command is the binary to run, or a shell line when Args is empty.
	Command string

	// Args are passed verbatim. When empty, Command runs through Shell -c.
	Args []string

	// Shell overrides the shell for arg-less commands. Defaults to /bin/sh.
	Shell string

	// Dir is the working directory. Empty inherits the process directory.
	Dir string

	// Env entries are appended to the inherited environment.
	Env map[string]string

	// Stdin is fed to the command's standard input when non-empty.
	Stdin string
}

// CommandResult carries the captured outcome of one invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands on the machine being provisioned.
type Runner interface {
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}

// LocalRunner runs commands on the local machine with full output capture.
type LocalRunner struct {
	log *telemetry.Logger
}

// NewLocalRunner creates a runner logging through the given logger.
func NewLocalRunner(log *telemetry.Logger) *LocalRunner {
	return &LocalRunner{log: log.NewComponentLogger("exec")}
}

// Run executes the spec and captures stdout and stderr. A non-zero exit
// returns both the populated result and a mutation-class error carrying the
// exit code, so callers can classify and still inspect the output.
func (r *LocalRunner) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	if spec.Command == "" {
		return nil, engine.NewValidationError("command is required", nil)
	}

	shell := spec.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	var cmd *exec.Cmd
	if len(spec.Args) > 0 {
		cmd = exec.CommandContext(ctx, spec.Command, spec.Args...)
	} else {
		cmd = exec.CommandContext(ctx, shell, "-c", spec.Command)
	}

	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		extra := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			extra = append(extra, fmt.Sprintf("%s=%s", k, v))
		}
		sort.Strings(extra)
		cmd.Env = append(os.Environ(), extra...)
	}
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debugf("Running: %s", renderSpec(spec))
	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return result, engine.NewCancelledError("command interrupted: " + renderSpec(spec))
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, engine.NewMutationError(
			fmt.Sprintf("command %q exited with code %d", renderSpec(spec), result.ExitCode), nil).
			WithCode(engine.ErrCodeCommandFailed).
			WithDetail("exit_code", result.ExitCode).
			WithDetail("stderr", tail(result.Stderr, 512))
	}

	return result, engine.NewMutationError("could not start command "+renderSpec(spec), err).
		WithCode(engine.ErrCodeCommandFailed)
}

// Output runs a shell line and returns its trimmed stdout.
func (r *LocalRunner) Output(ctx context.Context, command string) (string, error) {
	result, err := r.Run(ctx, CommandSpec{Command: command})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

func renderSpec(spec CommandSpec) string {
	if len(spec.Args) == 0 {
		return spec.Command
	}
	return spec.Command + " " + strings.Join(spec.Args, " ")
}

// tail keeps the last n bytes of s so error details stay bounded.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
