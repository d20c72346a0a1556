// Package executor runs job commands in a shell and maps their outcome to
// success or failure.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// MaxErrorLen bounds the stored text of an execution-mechanism error.
const MaxErrorLen = 200

// stderrMarker separates captured stdout from stderr in the stored output.
const stderrMarker = "\nERR:\n"

// Result is the outcome of one execution attempt.
type Result struct {
	Success bool
	Output  string
}

// Executor runs commands through a shell.
type Executor struct {
	shell string
}

// New returns an Executor that runs commands with "sh -c".
func New() *Executor {
	return &Executor{shell: "sh"}
}

// Run executes command and blocks until it exits. There is no timeout and the
// command is not tied to ctx cancellation; an in-flight command always runs to
// completion. ctx is only consulted for values.
func (e *Executor) Run(ctx context.Context, command string) Result {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), e.shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := combine(stdout.String(), stderr.String())

	if err == nil {
		return Result{Success: true, Output: output}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Success: false, Output: output}
	}
	return Failure(err)
}

// Failure converts an error raised by the execution mechanism itself into a
// failed result with bounded text.
func Failure(err error) Result {
	return Result{Success: false, Output: Truncate(err.Error(), MaxErrorLen)}
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func combine(stdout, stderr string) string {
	out := stdout
	if stderr != "" {
		out += stderrMarker + stderr
	}
	return strings.TrimSpace(out)
}
