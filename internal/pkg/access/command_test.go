package access

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecRunner_Success(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "hello.sh", `echo "hello $1"`)

	out, err := ExecRunner{}.Run(context.Background(), dir, time.Second, "./hello.sh", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestExecRunner_Timeout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "slow.sh", "exec sleep 10")

	start := time.Now()
	err := runCommand(context.Background(), ExecRunner{WaitDelay: 100 * time.Millisecond}, "provision", dir, 200*time.Millisecond, "./slow.sh")
	elapsed := time.Since(start)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.TimedOut)
	assert.True(t, ce.Temporary())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestCommandError_Classification(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "fail.sh", "echo boom >&2; exit 3")

	err := runCommand(context.Background(), ExecRunner{}, "block", dir, time.Second, "./fail.sh")
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.False(t, ce.TimedOut)
	assert.True(t, ce.Temporary())
	assert.Equal(t, "boom", ce.Output)
	assert.Contains(t, ce.Error(), "block")

	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr))

	err = runCommand(context.Background(), ExecRunner{}, "block", dir, time.Second, "./missing.sh")
	require.True(t, errors.As(err, &ce))
	assert.False(t, ce.Temporary())
}

func TestRetryPolicy(t *testing.T) {
	p := retryPolicy{maxRetries: 2, baseDelay: time.Millisecond}

	calls := 0
	err := p.do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &CommandError{Op: "block", RawError: &exec.ExitError{}}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.do(context.Background(), func() error {
		calls++
		return &CommandError{Op: "block", RawError: exec.ErrNotFound}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	calls = 0
	err = p.do(context.Background(), func() error {
		calls++
		return &CommandError{Op: "block", TimedOut: true, RawError: context.DeadlineExceeded}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ContextCancelled(t *testing.T) {
	p := retryPolicy{maxRetries: 5, baseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.do(ctx, func() error {
		calls++
		cancel()
		return &CommandError{Op: "unblock", TimedOut: true, RawError: context.DeadlineExceeded}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
