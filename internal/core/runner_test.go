package core

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipit/internal/ledger"
	"shipit/internal/retry"
	"shipit/internal/storage"
)

// fakeExecutor returns scripted results per command script.
type fakeExecutor struct {
	calls   []Command
	results map[string][]error
	output  string
}

func (f *fakeExecutor) Run(_ context.Context, cmd Command) (string, error) {
	f.calls = append(f.calls, cmd)
	queue := f.results[cmd.Script]
	if len(queue) == 0 {
		return f.output, nil
	}
	err := queue[0]
	if len(queue) > 1 {
		f.results[cmd.Script] = queue[1:]
	}
	return f.output, err
}

func (f *fakeExecutor) count(script string) int {
	n := 0
	for _, c := range f.calls {
		if c.Script == script {
			n++
		}
	}
	return n
}

func instantRetry(attempts int) *retry.Policy {
	return &retry.Policy{
		Attempts: attempts,
		Backoff:  5 * time.Second,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	}
}

func TestRunnerRunsStepsInOrder(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(exec, nil, "run-1")

	steps := []Step{
		{Name: "a", Command: Command{Script: "echo a"}, Code: ExitCompile},
		{Name: "b", Command: Command{Script: "echo b", Dir: "web"}, Code: ExitDependencies},
	}
	res := r.Run(context.Background(), steps, DefaultInput())

	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	require.Len(t, exec.calls, 2)
	assert.Equal(t, "echo a", exec.calls[0].Script)
	assert.Equal(t, "web", exec.calls[1].Dir)
	assert.Empty(t, res.FailedStep)
}

func TestRunnerHaltsAtFirstFailure(t *testing.T) {
	exec := &fakeExecutor{results: map[string][]error{"make": {errors.New("exit status 2")}}}
	r := NewRunner(exec, nil, "run-1")

	steps := []Step{
		{Name: "build", Command: Command{Script: "make"}, Code: ExitCompile},
		{Name: "copy", Command: Command{Script: "cp a b"}, Code: ExitCopy},
	}
	res := r.Run(context.Background(), steps, DefaultInput())

	assert.Equal(t, ExitCompile, res.ExitCode)
	assert.Equal(t, "build", res.FailedStep)
	assert.Equal(t, 0, exec.count("cp a b"))
	assert.Equal(t, ExitCompile, ExitCodeOf(res.Err))

	var se *StepError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, "build", se.Step)
}

func TestRunnerSkipsStepsWhoseGuardIsFalse(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(exec, nil, "run-1")

	steps := []Step{
		{Name: "secrets", Guard: Signing, Command: Command{Script: "check"}, Code: ExitMissingSecret},
		{Name: "smoke", Guard: QuickTest, Command: Command{Script: "launch"}, Code: ExitSmoke},
	}
	res := r.Run(context.Background(), steps, Input{QuickTest: false})

	require.True(t, res.OK())
	assert.Empty(t, exec.calls)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, ledger.StatusSkipped, res.Outcomes[0].Status)
	assert.Equal(t, ledger.StatusSkipped, res.Outcomes[1].Status)
}

func TestRunnerRetriesFlakyStepOnce(t *testing.T) {
	exec := &fakeExecutor{results: map[string][]error{"bundle": {errors.New("lock contention"), nil}}}
	r := NewRunner(exec, nil, "run-1")

	steps := []Step{{Name: "package", Command: Command{Script: "bundle"}, Retry: instantRetry(2), Code: ExitPackaging}}
	res := r.Run(context.Background(), steps, DefaultInput())

	require.True(t, res.OK())
	assert.Equal(t, 2, exec.count("bundle"))
	assert.Equal(t, 2, res.Outcomes[0].Attempts)
}

func TestRunnerGivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("exit status 1")
	exec := &fakeExecutor{results: map[string][]error{"bundle": {boom}}}
	r := NewRunner(exec, nil, "run-1")

	steps := []Step{
		{Name: "package", Command: Command{Script: "bundle"}, Retry: instantRetry(2), Code: ExitPackaging},
		{Name: "publish", Command: Command{Script: "upload"}, Code: ExitPublish},
	}
	res := r.Run(context.Background(), steps, DefaultInput())

	assert.Equal(t, ExitPackaging, res.ExitCode)
	assert.Equal(t, 2, exec.count("bundle"))
	assert.Equal(t, 0, exec.count("upload"))
	assert.True(t, retry.IsExhausted(res.Err))
}

func TestRunnerActionsReceiveRunContext(t *testing.T) {
	r := NewRunner(&fakeExecutor{}, nil, "run-42")
	var got *RunContext
	steps := []Step{{
		Name: "copy",
		Action: func(_ context.Context, rc *RunContext) error {
			got = rc
			return nil
		},
		Code: ExitCopy,
	}}
	in := Input{Version: "1.2.3", QuickTest: true}
	res := r.Run(context.Background(), steps, in)

	require.True(t, res.OK())
	require.NotNil(t, got)
	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, in, got.Input)
}

func TestRunnerRejectsInvalidPipeline(t *testing.T) {
	r := NewRunner(&fakeExecutor{}, nil, "run-1")
	res := r.Run(context.Background(), []Step{{Name: "x", Code: ExitCompile}}, DefaultInput())
	assert.Equal(t, ExitUsage, res.ExitCode)
}

func TestRunnerWritesRedactedLogsAndLedger(t *testing.T) {
	dir := t.TempDir()
	l, err := ledger.OpenLedger(filepath.Join(dir, "ledger.jsonl"))
	require.NoError(t, err)

	exec := &fakeExecutor{output: "signing with hunter2\n"}
	var out bytes.Buffer
	r := NewRunner(exec, nil, "run-7")
	r.LogStorage = storage.NewLogStorage(filepath.Join(dir, "logs"))
	r.Ledger = l
	r.Output = &out
	r.Redact = func(s string) string { return strings.ReplaceAll(s, "hunter2", "***") }

	steps := []Step{
		{Name: "sign", Command: Command{Script: "sign"}, Code: ExitCertificate},
		{Name: "smoke", Guard: QuickTest, Command: Command{Script: "launch"}, Code: ExitSmoke},
	}
	res := r.Run(context.Background(), steps, Input{})
	require.True(t, res.OK())

	assert.Equal(t, "signing with ***\n", out.String())
	require.NotEmpty(t, res.Outcomes[0].LogPath)
	assert.FileExists(t, res.Outcomes[0].LogPath)

	recs := l.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, ledger.StatusSucceeded, recs[0].Status)
	assert.Equal(t, ledger.StatusSkipped, recs[1].Status)
	assert.Equal(t, "run-7", recs[0].RunID)
	assert.NoError(t, l.VerifyChain())
}
