package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

const waitDelay = 2 * time.Second

// Executor runs step commands.
type Executor interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ShellExecutor runs commands with sh -c and captures combined output.
type ShellExecutor struct {
	Timeout time.Duration // per command, zero for none
}

func NewExecutor(timeout time.Duration) *ShellExecutor {
	return &ShellExecutor{Timeout: timeout}
}

// Run executes a single command and returns its output and error.
func (e *ShellExecutor) Run(ctx context.Context, cmd Command) (string, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, "sh", "-c", cmd.Script)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(os.Environ(), cmd.Env)
	// grandchildren may hold the output pipe open after a kill
	c.WaitDelay = waitDelay

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	err := c.Run()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out.String(), fmt.Errorf("timed out after %s: %w", e.Timeout, err)
	}
	return out.String(), err
}

// mergeEnv appends extra bindings to base in a stable order. Later
// entries win when the same key appears twice.
func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
