package core

import (
	"context"

	"go.uber.org/zap"

	"shipit/internal/retry"
)

// Input is the configuration for one run. It is supplied once at
// invocation and never mutated.
type Input struct {
	Version   string // empty means "leave version files alone"
	Signing   bool
	QuickTest bool
}

// DefaultInput matches the invocation defaults.
func DefaultInput() Input {
	return Input{QuickTest: true}
}

// Guard decides whether a step runs for the given input.
type Guard func(Input) bool

func Always(Input) bool        { return true }
func Signing(in Input) bool    { return in.Signing }
func Unsigned(in Input) bool   { return !in.Signing }
func QuickTest(in Input) bool  { return in.QuickTest }
func HasVersion(in Input) bool { return in.Version != "" }

// Command is a shell command run through the Executor.
type Command struct {
	Script string            // run with sh -c
	Dir    string            // working directory, empty for the current one
	Env    map[string]string // added on top of the process environment
}

// Action is a step body implemented in Go instead of a shell command.
type Action func(ctx context.Context, rc *RunContext) error

// Step is one entry of the ordered pipeline. Exactly one of Command
// and Action is set.
type Step struct {
	Name    string
	Guard   Guard // nil runs unconditionally
	Command Command
	Action  Action
	Retry   *retry.Policy // nil means a single attempt
	Code    ExitCode      // exit status when this step fails
}

// RunContext is handed to every Action.
type RunContext struct {
	RunID  string
	Input  Input
	Logger *zap.Logger
}
