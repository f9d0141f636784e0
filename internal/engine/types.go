package engine

import (
	"context"

	"github.com/roundtablehq/roundtable/internal/budget"
	"github.com/roundtablehq/roundtable/models"
)

// StepKey identifies a step inside a pipeline. Context lookups are keyed by
// StepKey so downstream steps read prior outputs through typed keys rather
// than bare strings.
type StepKey string

// Keys of the concrete steps. StepPipeline marks messages synthesized by the
// orchestrator itself when a pipeline could not run at all.
const (
	StepRetrieve        StepKey = "retrieve"
	StepSearchPrimary   StepKey = "search_primary"
	StepSearchSecondary StepKey = "search_secondary"
	StepFetch           StepKey = "fetch"
	StepAggregate       StepKey = "aggregate"
	StepTable           StepKey = "table"
	StepAnswer          StepKey = "answer"
	StepPipeline        StepKey = "pipeline"
)

// Status of a step's message.
type Status string

const (
	StatusUnset Status = ""
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Message is one step's output: a status, a payload and the producing step's
// key. Payload is either Content (text) or Results (structured search hits).
// For error-status messages Content carries the error text. Messages are
// immutable once stored in a Context.
type Message struct {
	Step    StepKey
	Status  Status
	Content string
	Results []models.SearchResult
}

// Descriptor is the static routing metadata for one pipeline.
type Descriptor struct {
	Name        string
	Description string
}

// Candidate is one pipeline's answer for one iteration, scored by the
// Evaluator.
type Candidate struct {
	Pipeline string
	Message  Message
	Score    float64
}

// Iteration records one orchestrator loop traversal for controllers that
// route differently on later passes.
type Iteration struct {
	Candidates []Candidate
	Continue   bool
}

// Route is the Controller's decision for one iteration: which pipelines to
// run in priority order, the (possibly reformulated) query to run them with,
// and whether routing is finished altogether.
type Route struct {
	Pipelines []*Pipeline
	Query     models.Query
	Done      bool
}

// Step is a single unit of work inside a pipeline. Execute reads prior step
// outputs from ec and returns its own message; a returned error is recorded
// as an error-status message under the step's key and the pipeline continues.
type Step interface {
	Key() StepKey
	Execute(ctx context.Context, q models.Query, ec *Context, b *budget.Budget) (Message, error)
}

// Controller decides which pipelines run each iteration. Implementations
// must be deterministic given the same inputs.
type Controller interface {
	Route(ctx context.Context, q models.Query, pipelines []*Pipeline, b *budget.Budget, prior []Iteration) (Route, error)
}

// Evaluator scores candidates and returns them sorted descending by score.
// The sort must be stable over the Controller's priority order, and an
// error-status candidate must never score above an ok one.
type Evaluator interface {
	Evaluate(ctx context.Context, q models.Query, candidates []Candidate) ([]Candidate, error)
}

// Decision is the Filter's verdict: a selected answer, or a request to route
// again when nothing met the selection policy.
type Decision struct {
	Answer *Candidate
	Retry  bool
}

// Filter selects the final answer from the ranked candidates. It must never
// select an error-status candidate while an ok one exists.
type Filter interface {
	Select(ctx context.Context, q models.Query, ranked []Candidate) (Decision, error)
}
