package core

import (
	"errors"
	"fmt"
)

// ExitCode is the process exit status of a run.
type ExitCode int

const (
	ExitOK            ExitCode = 0
	ExitInternal      ExitCode = 1
	ExitUsage         ExitCode = 2
	ExitMissingSecret ExitCode = 3
	ExitVersion       ExitCode = 4
	ExitCompile       ExitCode = 5
	ExitCopy          ExitCode = 6
	ExitCertificate   ExitCode = 7
	ExitDependencies  ExitCode = 8
	ExitPackaging     ExitCode = 9
	ExitPublish       ExitCode = 10
	ExitSmoke         ExitCode = 11
)

var exitNames = map[ExitCode]string{
	ExitOK:            "success",
	ExitInternal:      "internal error",
	ExitUsage:         "usage error",
	ExitMissingSecret: "missing secret",
	ExitVersion:       "version update failed",
	ExitCompile:       "compile failed",
	ExitCopy:          "copy failed",
	ExitCertificate:   "certificate install failed",
	ExitDependencies:  "dependency install failed",
	ExitPackaging:     "packaging failed",
	ExitPublish:       "artifact publish failed",
	ExitSmoke:         "smoke test failed",
}

func (c ExitCode) String() string {
	if name, ok := exitNames[c]; ok {
		return name
	}
	return fmt.Sprintf("exit %d", int(c))
}

// StepError is returned when a step's body fails.
type StepError struct {
	Step string
	Code ExitCode
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %s: %v", e.Step, e.Code, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ExitCodeOf maps an error to the exit status the process should use.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Code
	}
	return ExitInternal
}
