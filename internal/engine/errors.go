package engine

import (
	"errors"
	"fmt"
)

// ErrNoCandidates reports that an iteration produced nothing to rank, either
// because the Controller selected zero pipelines or every selection failed
// before producing a message.
var ErrNoCandidates = errors.New("no candidate answers")

// ErrBudgetExpired reports that the shared budget was already expired when a
// new unit of work would have started.
var ErrBudgetExpired = errors.New("budget expired")

// StepError wraps a single step's failure. The pipeline records it as an
// error-status message and keeps going.
type StepError struct {
	Step StepKey
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// PipelineError reports that a pipeline could not run to its final step, for
// example because the budget expired between groups.
type PipelineError struct {
	Pipeline string
	Err      error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("pipeline %s: %v", e.Pipeline, e.Err) }
func (e *PipelineError) Unwrap() error { return e.Err }
