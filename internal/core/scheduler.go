package core

import (
	"errors"
	"fmt"
)

// Scheduler decides which steps run for an input. Order is always the
// declaration order; there is no fan-out.
type Scheduler struct{}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Eligible evaluates the step guard.
func (s *Scheduler) Eligible(step Step, in Input) bool {
	if step.Guard == nil {
		return true
	}
	return step.Guard(in)
}

// Planned returns the names of the steps that would run, in order.
func (s *Scheduler) Planned(steps []Step, in Input) []string {
	var names []string
	for _, step := range steps {
		if s.Eligible(step, in) {
			names = append(names, step.Name)
		}
	}
	return names
}

// Validate rejects step lists the runner cannot execute.
func (s *Scheduler) Validate(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("pipeline has no steps")
	}
	seen := make(map[string]bool, len(steps))
	for i, step := range steps {
		if step.Name == "" {
			return fmt.Errorf("step %d has no name", i+1)
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true

		hasCmd := step.Command.Script != ""
		if hasCmd == (step.Action != nil) {
			return fmt.Errorf("step %q must have exactly one of a command or an action", step.Name)
		}
		if step.Code == ExitOK {
			return fmt.Errorf("step %q has no failure exit code", step.Name)
		}
		if step.Retry != nil && step.Retry.Attempts < 1 {
			return fmt.Errorf("step %q retry policy needs at least one attempt", step.Name)
		}
	}
	return nil
}
