package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a command gate run when none is configured.
const DefaultCommandTimeout = 10 * time.Second

// maxCaptured caps how much stdout or stderr a diagnostic keeps.
const maxCaptured = 4096

// Environment passed to command gates alongside the output on stdin.
const (
	EnvTaskID   = "TOOLCASCADE_TASK_ID"
	EnvGoal     = "TOOLCASCADE_GOAL"
	EnvCategory = "TOOLCASCADE_CATEGORY"
	EnvFormat   = "TOOLCASCADE_FORMAT"
)

// CommandDiagnostics records one command gate run.
type CommandDiagnostics struct {
	Command  []string      `json:"command"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// CommandGate hands the output to an external checker. The output arrives on
// stdin and the task context in TOOLCASCADE_* variables; exit status 0
// accepts.
type CommandGate struct {
	name    string
	argv    []string
	timeout time.Duration
}

// NewCommandGate creates a gate running argv. The name defaults to argv[0].
func NewCommandGate(name string, argv []string, timeout time.Duration) (*CommandGate, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("command gate needs a command")
	}
	if name == "" {
		name = argv[0]
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandGate{name: name, argv: append([]string(nil), argv...), timeout: timeout}, nil
}

func (g *CommandGate) Name() string { return g.name }

// Evaluate runs the checker. Failing to start it, or running past the
// timeout, is an error; a non-zero exit is a violation.
func (g *CommandGate) Evaluate(ctx context.Context, s Subject) (*GateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Stdin = strings.NewReader(s.Output)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(),
		EnvTaskID+"="+s.Task.ID,
		EnvGoal+"="+s.Task.Goal,
		EnvCategory+"="+string(s.Category),
		EnvFormat+"="+s.Task.ExpectedFormat,
	)

	started := time.Now()
	runErr := cmd.Run()
	diag := &CommandDiagnostics{
		Command:  append([]string(nil), g.argv...),
		Stdout:   clip(stdout.String()),
		Stderr:   clip(stderr.String()),
		Duration: time.Since(started),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("gate %s: %w", g.name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("gate %s: start: %w", g.name, runErr)
		}
		diag.ExitCode = exitErr.ExitCode()
	}

	if diag.ExitCode == 0 {
		result := NewPassingResult()
		result.Diagnostics = diag
		return result, nil
	}

	msg := fmt.Sprintf("%s rejected the output (exit %d)", g.name, diag.ExitCode)
	if detail := strings.TrimSpace(diag.Stderr); detail != "" {
		msg += ": " + detail
	}
	result := NewFailingResult(Violation{Gate: g.name, Rule: "command_failed", Severity: "error", Message: msg})
	result.Diagnostics = diag
	return result, nil
}

func clip(s string) string {
	return cut(s, maxCaptured)
}
