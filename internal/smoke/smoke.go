// Package smoke checks that a freshly packaged application starts and
// stays up through a startup window.
//
// This is a liveness probe only. The launched process is a child of the
// tester, so its exit is observed directly instead of searched for in
// the process table: an early crash fails the check as soon as it
// happens, and an exited process can never be mistaken for a live one.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrExitedEarly means the application did not stay open for the window.
var ErrExitedEarly = errors.New("application did not stay open")

// terminateGrace is how long a SIGTERM'd app gets before it is killed.
const terminateGrace = 5 * time.Second

// Options configure one check.
type Options struct {
	Bundle     string        // quarantine is stripped from this tree, optional
	Executable string        // launched directly
	Window     time.Duration // how long the app must stay up
	Poll       time.Duration // how often the child is checked during the window
	Logger     *zap.Logger
}

// Run launches the application in the background and reports whether it
// survived the startup window. A surviving app is terminated afterwards.
func Run(ctx context.Context, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Window <= 0 {
		return errors.New("smoke: window must be positive")
	}
	if opts.Poll <= 0 || opts.Poll > opts.Window {
		opts.Poll = opts.Window
	}

	if opts.Bundle != "" {
		n, err := StripQuarantine(opts.Bundle)
		if err != nil {
			return fmt.Errorf("strip quarantine: %w", err)
		}
		log.Debug("quarantine stripped", zap.String("bundle", opts.Bundle), zap.Int("files", n))
	}

	if _, err := os.Stat(opts.Executable); err != nil {
		return fmt.Errorf("smoke: %w", err)
	}

	cmd := exec.Command(opts.Executable)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", opts.Executable, err)
	}
	pid := cmd.Process.Pid
	log.Info("application launched", zap.String("executable", opts.Executable), zap.Int("pid", pid))

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline := time.NewTimer(opts.Window)
	defer deadline.Stop()
	tick := time.NewTicker(opts.Poll)
	defer tick.Stop()
	start := time.Now()

	for {
		select {
		case err := <-exited:
			return fmt.Errorf("%w: exited after %s (%v)", ErrExitedEarly, time.Since(start).Round(time.Millisecond), exitDescription(err))
		case <-ctx.Done():
			terminate(cmd.Process, exited)
			return ctx.Err()
		case <-tick.C:
			log.Debug("application still running", zap.Int("pid", pid), zap.Duration("elapsed", time.Since(start)))
		case <-deadline.C:
			// the window and an exit can fire together; an exit wins
			select {
			case err := <-exited:
				return fmt.Errorf("%w: exited at the end of the window (%v)", ErrExitedEarly, exitDescription(err))
			default:
			}
			log.Info("application stayed open", zap.Int("pid", pid), zap.Duration("window", opts.Window))
			terminate(cmd.Process, exited)
			return nil
		}
	}
}

// terminate asks the process to quit and kills it after terminateGrace.
func terminate(p *os.Process, exited <-chan error) {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		p.Kill()
	}
	select {
	case <-exited:
	case <-time.After(terminateGrace):
		p.Kill()
		<-exited
	}
}

func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
