package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

// Group is one execution unit of a pipeline: a single step, or several steps
// run concurrently.
type Group []Step

// Pipeline is a named, ordered sequence of step groups producing one
// candidate answer per run. The last step of the last group is the result
// step.
type Pipeline struct {
	name        string
	description string
	allowance   float64
	groups      []Group
}

func NewPipeline(name, description string, groups ...Group) *Pipeline {
	return &Pipeline{name: name, description: description, groups: groups}
}

// WithAllowance declares extra budget units the pipeline's own steps spend
// while running, page fetches for example. The launcher reserves them on top
// of the launch price so the internal spending never comes out of a sibling's
// share.
func (p *Pipeline) WithAllowance(units float64) *Pipeline {
	p.allowance = units
	return p
}

func (p *Pipeline) Name() string        { return p.name }
func (p *Pipeline) Description() string { return p.description }
func (p *Pipeline) Allowance() float64  { return p.allowance }

func (p *Pipeline) Descriptor() Descriptor {
	return Descriptor{Name: p.name, Description: p.description}
}

// Run executes the pipeline's groups in order against a fresh Context and
// returns the final step's message. A failed step stores an error-status
// message and execution continues, so step failures never surface here; the
// returned error is reserved for the pipeline not reaching its final step at
// all (empty pipeline, budget expired between groups).
func (p *Pipeline) Run(ctx context.Context, q models.Query, b *budget.Budget) (Message, error) {
	if len(p.groups) == 0 {
		return Message{}, &PipelineError{Pipeline: p.name, Err: errors.New("no steps")}
	}

	ec := NewContext()
	for _, group := range p.groups {
		if b.IsExpired() {
			return Message{}, &PipelineError{Pipeline: p.name, Err: ErrBudgetExpired}
		}
		if len(group) == 1 {
			runStep(ctx, group[0], q, ec, b)
			continue
		}
		var wg sync.WaitGroup
		for _, s := range group {
			wg.Add(1)
			go func(s Step) {
				defer wg.Done()
				runStep(ctx, s, q, ec, b)
			}(s)
		}
		wg.Wait()
	}

	final := p.finalKey()
	msg, ok := ec.Get(final)
	if !ok {
		return Message{}, &PipelineError{Pipeline: p.name, Err: errors.New("final step produced no message")}
	}
	return msg, nil
}

// runStep executes one step and stores its message, converting a returned
// error into an error-status message under the step's key.
func runStep(ctx context.Context, s Step, q models.Query, ec *Context, b *budget.Budget) {
	msg, err := executeStep(ctx, s, q, ec, b)
	if err != nil {
		msg = errorMessage(s.Key(), &StepError{Step: s.Key(), Err: err})
	}
	if msg.Step == "" {
		msg.Step = s.Key()
	}
	if msg.Status == StatusUnset {
		msg.Status = StatusOK
	}
	ec.Put(msg)
}

// executeStep confines a panicking step to a step failure so one bad step
// cannot take the whole run down.
func executeStep(ctx context.Context, s Step, q models.Query, ec *Context, b *budget.Budget) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Execute(ctx, q, ec, b)
}

func (p *Pipeline) finalKey() StepKey {
	last := p.groups[len(p.groups)-1]
	return last[len(last)-1].Key()
}

func errorMessage(step StepKey, err error) Message {
	return Message{Step: step, Status: StatusError, Content: err.Error()}
}
