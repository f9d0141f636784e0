package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/roundtablehq/roundtable/models"
)

func TestTopFilterNeverSelectsErrorCandidate(t *testing.T) {
	ranked := []Candidate{
		{Pipeline: "broken", Message: Message{Status: StatusError, Content: "down"}, Score: 0.9},
		{Pipeline: "documents", Message: Message{Status: StatusOK, Content: "an answer"}, Score: 0.2},
	}

	d, err := TopFilter{}.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Answer == nil || d.Answer.Pipeline != "documents" {
		t.Fatalf("decision = %+v, want the ok candidate whatever the error one scored", d)
	}
}

func TestTopFilterRetriesWhenNothingUsable(t *testing.T) {
	ranked := []Candidate{
		{Pipeline: "empty", Message: Message{Status: StatusOK}},
		{Pipeline: "broken", Message: Message{Status: StatusError, Content: "down"}},
	}

	d, err := TopFilter{}.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Answer != nil || !d.Retry {
		t.Fatalf("decision = %+v, want a retry signal", d)
	}
}

func TestThresholdFilterMergesEverythingAboveCut(t *testing.T) {
	ranked := []Candidate{
		{Pipeline: "a", Message: Message{Status: StatusOK, Content: "alpha"}, Score: 0.9},
		{Pipeline: "b", Message: Message{Status: StatusOK, Content: "beta"}, Score: 0.5},
		{Pipeline: "c", Message: Message{Status: StatusOK, Content: "gamma"}, Score: 0.3},
	}

	d, err := ThresholdFilter{Threshold: 0.5}.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Answer == nil {
		t.Fatal("expected a merged answer")
	}
	if d.Answer.Pipeline != "a+b" {
		t.Fatalf("pipeline = %q, want a+b (score at the cut is included)", d.Answer.Pipeline)
	}
	want := "[a] alpha\n\n[b] beta"
	if d.Answer.Message.Content != want {
		t.Fatalf("content = %q, want %q", d.Answer.Message.Content, want)
	}
	if d.Answer.Score != 0.9 {
		t.Fatalf("score = %v, want the best member's", d.Answer.Score)
	}
}

func TestThresholdFilterSingleCandidateUnmerged(t *testing.T) {
	ranked := []Candidate{
		{Pipeline: "a", Message: Message{Status: StatusOK, Content: "alpha"}, Score: 0.9},
		{Pipeline: "b", Message: Message{Status: StatusOK, Content: "beta"}, Score: 0.1},
	}

	d, err := ThresholdFilter{Threshold: 0.5}.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Answer == nil || d.Answer.Pipeline != "a" || d.Answer.Message.Content != "alpha" {
		t.Fatalf("decision = %+v, want candidate a untouched", d)
	}
}

func TestThresholdFilterRetriesWhenAllBelowCut(t *testing.T) {
	ranked := []Candidate{
		{Pipeline: "a", Message: Message{Status: StatusOK, Content: "alpha"}, Score: 0.2},
	}

	d, err := ThresholdFilter{Threshold: 0.5}.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !d.Retry || d.Answer != nil {
		t.Fatalf("decision = %+v, want retry", d)
	}
}

func TestReportFilterSynthesizesAcrossCandidates(t *testing.T) {
	var gotSystem string
	llm := &fakeCompleter{fn: func(model, system string, turns []models.Turn) (string, error) {
		gotSystem = system
		return "merged report", nil
	}}
	f := NewReportFilter(llm, "chat", "Microsoft", testLogger())
	ranked := []Candidate{
		{Pipeline: "documents", Message: Message{Status: StatusOK, Content: "from filings"}, Score: 0.9},
		{Pipeline: "websearch", Message: Message{Status: StatusOK, Content: "from the web"}, Score: 0.7},
	}

	d, err := f.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Answer == nil || d.Answer.Message.Content != "merged report" {
		t.Fatalf("decision = %+v, want the synthesized report", d)
	}
	if d.Answer.Pipeline != "documents+websearch" {
		t.Fatalf("pipeline = %q", d.Answer.Pipeline)
	}
	if d.Answer.Score != 0.9 {
		t.Fatalf("score = %v, want the top member's", d.Answer.Score)
	}
	for _, frag := range []string{"# documents", "from filings", "# websearch", "from the web"} {
		if !strings.Contains(gotSystem, frag) {
			t.Fatalf("synthesis prompt missing %q:\n%s", frag, gotSystem)
		}
	}
}

func TestReportFilterFailureReturnsTopCandidate(t *testing.T) {
	f := NewReportFilter(&fakeCompleter{}, "chat", "Microsoft", testLogger())
	ranked := []Candidate{
		{Pipeline: "documents", Message: Message{Status: StatusOK, Content: "from filings"}, Score: 0.9},
		{Pipeline: "websearch", Message: Message{Status: StatusOK, Content: "from the web"}, Score: 0.7},
	}

	d, err := f.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select must not fail when synthesis does, got %v", err)
	}
	if d.Answer == nil || d.Answer.Pipeline != "documents" {
		t.Fatalf("decision = %+v, want the top candidate", d)
	}
}

func TestReportFilterSingleCandidateSkipsSynthesis(t *testing.T) {
	llm := &fakeCompleter{fn: func(model, system string, turns []models.Turn) (string, error) {
		return "should not be called", nil
	}}
	f := NewReportFilter(llm, "chat", "Microsoft", testLogger())
	ranked := []Candidate{
		{Pipeline: "documents", Message: Message{Status: StatusOK, Content: "from filings"}, Score: 0.9},
		{Pipeline: "broken", Message: Message{Status: StatusError, Content: "down"}, Score: 0},
	}

	d, err := f.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Answer == nil || d.Answer.Pipeline != "documents" {
		t.Fatalf("decision = %+v", d)
	}
	if got := atomic.LoadInt32(&llm.calls); got != 0 {
		t.Fatalf("llm calls = %d, want 0 for a single usable candidate", got)
	}
}

func TestReportFilterRetriesWhenNothingUsable(t *testing.T) {
	llm := &fakeCompleter{}
	f := NewReportFilter(llm, "chat", "Microsoft", testLogger())
	ranked := []Candidate{
		{Pipeline: "broken", Message: Message{Status: StatusError, Content: "down"}},
	}

	d, err := f.Select(context.Background(), models.NewQuery("q", nil), ranked)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !d.Retry || d.Answer != nil {
		t.Fatalf("decision = %+v, want retry", d)
	}
	if got := atomic.LoadInt32(&llm.calls); got != 0 {
		t.Fatalf("llm calls = %d, want 0", got)
	}
}
