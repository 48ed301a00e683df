package core

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"shipit/internal/ledger"
	"shipit/internal/retry"
	"shipit/internal/storage"
	"shipit/pkg/utils"
)

// Outcome is what happened to one step during a run.
type Outcome struct {
	Step     string
	Status   ledger.Status
	Attempts int
	Duration time.Duration
	LogPath  string
	Err      error
}

// RunResult is the terminal outcome of a run.
type RunResult struct {
	ExitCode   ExitCode
	FailedStep string // empty on success
	Err        error
	Outcomes   []Outcome
}

// OK reports whether every eligible step succeeded.
func (r RunResult) OK() bool { return r.ExitCode == ExitOK }

// Runner ties together Scheduler + Executor + log storage + ledger.
type Runner struct {
	Scheduler  *Scheduler
	Executor   Executor
	LogStorage *storage.LogStorage // optional
	Ledger     *ledger.Ledger      // optional
	LedgerKey  ed25519.PrivateKey  // optional, signs ledger records
	Logger     *zap.Logger
	Output     io.Writer           // receives command output after each attempt, optional
	Redact     func(string) string // applied to output before it leaves the runner, optional
	RunID      string
}

func NewRunner(exec Executor, logger *zap.Logger, runID string) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Scheduler: NewScheduler(),
		Executor:  exec,
		Logger:    logger,
		RunID:     runID,
	}
}

// Run executes steps in order and stops at the first eligible step that
// fails after its retries.
func (r *Runner) Run(ctx context.Context, steps []Step, in Input) RunResult {
	if err := r.Scheduler.Validate(steps); err != nil {
		return RunResult{ExitCode: ExitUsage, Err: fmt.Errorf("invalid pipeline: %w", err)}
	}

	log := r.Logger.With(zap.String("run_id", r.RunID))
	log.Info("pipeline started",
		zap.String("version", in.Version),
		zap.Bool("signing", in.Signing),
		zap.Bool("quick_test", in.QuickTest),
		zap.Strings("plan", r.Scheduler.Planned(steps, in)),
	)

	rc := &RunContext{RunID: r.RunID, Input: in, Logger: log}
	outcomes := make([]Outcome, 0, len(steps))

	for i, step := range steps {
		slog := log.With(zap.String("step", step.Name))

		if !r.Scheduler.Eligible(step, in) {
			slog.Debug("step skipped")
			r.record(slog, step.Name, ledger.StatusSkipped, 0, "", "")
			outcomes = append(outcomes, Outcome{Step: step.Name, Status: ledger.StatusSkipped})
			continue
		}

		slog.Info("step started", zap.Int("position", i+1), zap.Int("total", len(steps)))
		start := time.Now()
		attempts, output, err := r.execute(ctx, rc, step, slog)
		took := time.Since(start)

		logPath := r.saveLog(slog, i+1, step.Name, output)
		out := Outcome{Step: step.Name, Attempts: attempts, Duration: took, LogPath: logPath, Err: err}

		if err != nil {
			out.Status = ledger.StatusFailed
			outcomes = append(outcomes, out)
			r.record(slog, step.Name, ledger.StatusFailed, attempts, logPath, output)

			stepErr := &StepError{Step: step.Name, Code: step.Code, Err: err}
			slog.Error("step failed", zap.Int("attempts", attempts), zap.Duration("took", took), zap.Error(err))
			return RunResult{ExitCode: step.Code, FailedStep: step.Name, Err: stepErr, Outcomes: outcomes}
		}

		out.Status = ledger.StatusSucceeded
		outcomes = append(outcomes, out)
		r.record(slog, step.Name, ledger.StatusSucceeded, attempts, logPath, output)
		slog.Info("step completed", zap.Int("attempts", attempts), zap.Duration("took", took))
	}

	if r.Ledger != nil {
		if err := r.Ledger.VerifyChain(); err != nil {
			log.Warn("ledger verification failed", zap.Error(err))
		}
	}
	log.Info("pipeline finished successfully")
	return RunResult{ExitCode: ExitOK, Outcomes: outcomes}
}

// execute runs the step body under its retry policy and returns the
// attempt count and the combined, redacted output of every attempt.
func (r *Runner) execute(ctx context.Context, rc *RunContext, step Step, log *zap.Logger) (int, string, error) {
	policy := retry.Policy{Attempts: 1}
	if step.Retry != nil {
		policy = *step.Retry
	}

	var output strings.Builder
	body := func(ctx context.Context, attempt int) error {
		if step.Action != nil {
			return step.Action(ctx, rc)
		}
		out, err := r.Executor.Run(ctx, step.Command)
		out = r.redact(out)
		if policy.Attempts > 1 {
			fmt.Fprintf(&output, "=== attempt %d ===\n", attempt)
		}
		output.WriteString(out)
		if r.Output != nil && out != "" {
			fmt.Fprint(r.Output, out)
			if !strings.HasSuffix(out, "\n") {
				fmt.Fprintln(r.Output)
			}
		}
		return err
	}
	notify := func(attempt, max int, err error, wait time.Duration) {
		log.Warn(fmt.Sprintf("attempt %d of %d failed, retrying in %s", attempt, max, wait),
			zap.Int("attempt", attempt), zap.Error(err))
	}

	attempts, err := retry.Do(ctx, policy, body, notify)
	return attempts, output.String(), err
}

func (r *Runner) redact(s string) string {
	if r.Redact == nil {
		return s
	}
	return r.Redact(s)
}

func (r *Runner) saveLog(log *zap.Logger, index int, step, output string) string {
	if r.LogStorage == nil || output == "" {
		return ""
	}
	path, err := r.LogStorage.SaveLog(r.RunID, index, step, output)
	if err != nil {
		log.Warn("cannot save step log", zap.Error(err))
		return ""
	}
	log.Debug("step log saved", zap.String("path", path))
	return path
}

// record appends a ledger entry. Ledger problems never fail the run.
func (r *Runner) record(log *zap.Logger, step string, status ledger.Status, attempts int, logPath, output string) {
	if r.Ledger == nil {
		return
	}
	e := ledger.Entry{RunID: r.RunID, Step: step, Status: status, Attempts: attempts, LogPath: logPath}
	if logPath != "" {
		e.LogHash = utils.HashString(output)
	}
	rec, err := r.Ledger.Add(e, r.LedgerKey)
	if err != nil {
		log.Warn("cannot append ledger record", zap.Error(err))
		return
	}
	log.Debug("ledger record appended", zap.Int("index", rec.Index), zap.String("hash", rec.Hash[:16]))
}
