package execrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// ErrTimeout is wrapped when a command is killed because its deadline passed
var ErrTimeout = errors.New("command timed out")

// Runner executes an external command and captures its output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Result of a finished command. A non-zero exit is not an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Exec runs commands via os/exec
type Exec struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a runner. A zero timeout lets commands run until they exit.
func New(timeout time.Duration, logger *slog.Logger) *Exec {
	return &Exec{
		timeout: timeout,
		logger:  logger.With("component", "exec"),
	}
}

// Run executes name with args and waits for it to finish
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("Executing command", "cmd", cmd.Args)

	start := time.Now()
	err := cmd.Run()
	result := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	// Check for timeout
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, fmt.Errorf("%s: %w after %v", name, ErrTimeout, e.timeout)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("failed to execute %s: %w", name, err)
	}

	e.logger.Debug("Command finished",
		"cmd", name,
		"exit_code", result.ExitCode,
		"duration", result.Duration,
	)

	return result, nil
}
