package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

type fakeStep struct {
	key StepKey
	fn  func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error)
}

func (s fakeStep) Key() StepKey { return s.key }

func (s fakeStep) Execute(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
	return s.fn(ctx, q, ec, b)
}

func okStep(key StepKey, content string) fakeStep {
	return fakeStep{key: key, fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		return Message{Step: key, Status: StatusOK, Content: content}, nil
	}}
}

func failStep(key StepKey, text string) fakeStep {
	return fakeStep{key: key, fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		return Message{}, errors.New(text)
	}}
}

func TestPipelineFinalStepMessageIsResult(t *testing.T) {
	first := okStep("first", "partial")
	second := fakeStep{key: "second", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		msg, ok := ec.Get("first")
		if !ok {
			return Message{}, errors.New("first step output missing")
		}
		return Message{Step: "second", Status: StatusOK, Content: msg.Content + "+done"}, nil
	}}
	p := NewPipeline("p", "", Group{first}, Group{second})

	msg, err := p.Run(context.Background(), models.NewQuery("q", nil), budget.Allocate(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if msg.Step != "second" || msg.Status != StatusOK {
		t.Fatalf("final message = %+v, want ok message from second", msg)
	}
	if msg.Content != "partial+done" {
		t.Fatalf("content = %q, want %q", msg.Content, "partial+done")
	}
}

func TestPipelineStepFailureRecordedAndContinues(t *testing.T) {
	inspect := fakeStep{key: "inspect", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		msg, ok := ec.Get("broken")
		if !ok {
			return Message{}, errors.New("error message was not stored")
		}
		return Message{Step: "inspect", Status: StatusOK, Content: fmt.Sprintf("%s|%s", msg.Status, msg.Content)}, nil
	}}
	p := NewPipeline("p", "", Group{failStep("broken", "boom")}, Group{inspect})

	msg, err := p.Run(context.Background(), models.NewQuery("q", nil), budget.Allocate(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if msg.Status != StatusOK {
		t.Fatalf("pipeline should continue past a failed step, got %+v", msg)
	}
	want := "error|step broken: boom"
	if msg.Content != want {
		t.Fatalf("content = %q, want %q", msg.Content, want)
	}
}

func TestPipelineParallelGroupDeterminism(t *testing.T) {
	join := fakeStep{key: "join", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		left, _ := ec.Get("left")
		right, _ := ec.Get("right")
		return Message{Step: "join", Status: StatusOK, Content: left.Content + "/" + right.Content}, nil
	}}

	run := func(leftDelay, rightDelay time.Duration) Message {
		left := fakeStep{key: "left", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
			time.Sleep(leftDelay)
			return Message{Step: "left", Status: StatusOK, Content: "L"}, nil
		}}
		right := fakeStep{key: "right", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
			time.Sleep(rightDelay)
			return Message{Step: "right", Status: StatusOK, Content: "R"}, nil
		}}
		p := NewPipeline("p", "", Group{left, right}, Group{join})
		msg, err := p.Run(context.Background(), models.NewQuery("q", nil), budget.Allocate(10))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return msg
	}

	fast := run(0, 5*time.Millisecond)
	slow := run(5*time.Millisecond, 0)
	if !reflect.DeepEqual(fast, slow) {
		t.Fatalf("completion order changed the result: %+v vs %+v", fast, slow)
	}
	if fast.Content != "L/R" {
		t.Fatalf("content = %q, want %q", fast.Content, "L/R")
	}
}

func TestPipelineStopsWhenBudgetExpires(t *testing.T) {
	var secondRan bool
	drain := fakeStep{key: "drain", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		if err := b.Consume(b.Remaining()); err != nil {
			return Message{}, err
		}
		return Message{Step: "drain", Status: StatusOK, Content: "spent"}, nil
	}}
	after := fakeStep{key: "after", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		secondRan = true
		return Message{Step: "after", Status: StatusOK}, nil
	}}
	p := NewPipeline("p", "", Group{drain}, Group{after})

	_, err := p.Run(context.Background(), models.NewQuery("q", nil), budget.Allocate(5))
	if err == nil {
		t.Fatal("expected a pipeline error once the budget is spent")
	}
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *PipelineError", err)
	}
	if !errors.Is(err, ErrBudgetExpired) {
		t.Fatalf("error = %v, want wrapped ErrBudgetExpired", err)
	}
	if secondRan {
		t.Fatal("no new step may start on an expired budget")
	}
}

func TestPipelineExpiredBudgetRunsNothing(t *testing.T) {
	var ran bool
	step := fakeStep{key: "s", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		ran = true
		return Message{Step: "s", Status: StatusOK}, nil
	}}
	p := NewPipeline("p", "", Group{step})

	b := budget.Allocate(1)
	if err := b.Consume(1); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := p.Run(context.Background(), models.NewQuery("q", nil), b); err == nil {
		t.Fatal("expected error on expired budget")
	}
	if ran {
		t.Fatal("step ran on an expired budget")
	}
}

func TestPipelineWithoutStepsErrors(t *testing.T) {
	p := NewPipeline("empty", "")
	if _, err := p.Run(context.Background(), models.NewQuery("q", nil), budget.Allocate(1)); err == nil {
		t.Fatal("expected error for pipeline without steps")
	}
}

func TestPipelineStepPanicBecomesStepFailure(t *testing.T) {
	bad := fakeStep{key: "bad", fn: func(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error) {
		panic("step exploded")
	}}
	p := NewPipeline("p", "", Group{bad})

	msg, err := p.Run(context.Background(), models.NewQuery("q", nil), budget.Allocate(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if msg.Status != StatusError {
		t.Fatalf("status = %s, want error", msg.Status)
	}
}
