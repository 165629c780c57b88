package access

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

// CommandError describes a failed access-control script run.
type CommandError struct {
	Op       string // provision, block, unblock
	Output   string
	RawError error
	TimedOut bool
}

func (e *CommandError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out: %v", e.Op, e.RawError)
	}
	if e.Output != "" {
		return fmt.Sprintf("%s: %v, output: %s", e.Op, e.RawError, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.RawError)
}

func (e *CommandError) Unwrap() error {
	return e.RawError
}

// Temporary reports whether running the same command again may succeed.
// A missing or non-executable script will not fix itself.
func (e *CommandError) Temporary() bool {
	if e.TimedOut {
		return true
	}
	if errors.Is(e.RawError, exec.ErrNotFound) ||
		errors.Is(e.RawError, fs.ErrNotExist) ||
		errors.Is(e.RawError, fs.ErrPermission) {
		return false
	}
	var exitErr *exec.ExitError
	return errors.As(e.RawError, &exitErr)
}

// Runner executes an external command in dir and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec. On timeout the process is killed and
// its pipes are closed after WaitDelay so the caller never hangs.
type ExecRunner struct {
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Second
	}

	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%w after %v: %w", context.DeadlineExceeded, timeout, err)
		}
		return out, err
	}
	return out, nil
}

// runCommand wraps a Runner call into a CommandError.
func runCommand(ctx context.Context, r Runner, op, dir string, timeout time.Duration, name string, args ...string) error {
	out, err := r.Run(ctx, dir, timeout, name, args...)
	if err == nil {
		return nil
	}
	return &CommandError{
		Op:       op,
		Output:   out,
		RawError: err,
		TimedOut: errors.Is(err, context.DeadlineExceeded),
	}
}

// retryPolicy 指数退避重试
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		// 非暂时性错误不重试
		var ce *CommandError
		if errors.As(lastErr, &ce) && !ce.Temporary() {
			return lastErr
		}
	}
	return lastErr
}
