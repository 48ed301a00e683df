package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"shipit/internal/core"
)

// usageError marks bad flags, bad environment or bad configuration.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// NewRootCommand builds the shipit command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "shipit",
		Short:         "Build, sign, package, publish and smoke-test a desktop application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
	RegisterCommands(root)
	return root
}

// RegisterCommands adds all available commands to the root command
func RegisterCommands(root *cobra.Command) {
	root.AddCommand(NewRunCommand())
	root.AddCommand(NewLedgerCommand())
	root.AddCommand(NewKeygenCommand())
}

// Execute runs the CLI and returns the process exit code.
func Execute(args []string) int {
	return execute(NewRootCommand(), args)
}

func execute(root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return int(core.ExitOK)
	}

	var se *core.StepError
	if errors.As(err, &se) {
		// the runner already logged the failing step
		return int(se.Code)
	}
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)

	var ue usageError
	if errors.As(err, &ue) {
		return int(core.ExitUsage)
	}
	return int(core.ExitCodeOf(err))
}
