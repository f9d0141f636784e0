package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/roundtablehq/roundtable/internal/store"
	"github.com/roundtablehq/roundtable/models"
)

type stubEngine struct {
	answer models.Answer
	got    models.Query
	calls  int
}

func (s *stubEngine) Answer(_ context.Context, q models.Query) models.Answer {
	s.got = q
	s.calls++
	return s.answer
}

func TestAskAnswersAndRecordsRun(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	engine := &stubEngine{answer: models.Answer{
		Text:       "MSFT cloud revenue grew 15 percent.",
		Pipeline:   "documents",
		Score:      0.8,
		Iterations: 1,
		UnitsSpent: 3,
		Duration:   1500 * time.Millisecond,
	}}
	handler := &AskHandler{Engine: engine, Store: &store.Store{DB: db}}

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(sqlmock.AnyArg(), "user-1", "How did Microsoft do last quarter?",
			"MSFT cloud revenue grew 15 percent.", "documents", 0.8, false, 3.0,
			int64(1500), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"question":"How did Microsoft do last quarter?"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	if err := handler.ask(ctx); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "MSFT cloud revenue grew 15 percent." || resp.Pipeline != "documents" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Fallback || resp.Score != 0.8 || resp.UnitsSpent != 3 || resp.DurationMS != 1500 {
		t.Fatalf("unexpected run metadata: %+v", resp)
	}
	if resp.RunID == "" {
		t.Fatalf("expected a run id")
	}

	if engine.got.Text != "How did Microsoft do last quarter?" {
		t.Fatalf("engine saw question %q", engine.got.Text)
	}
	if len(engine.got.History) != 0 {
		t.Fatalf("expected no history without a history store, got %d turns", len(engine.got.History))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	e := echo.New()
	engine := &stubEngine{}
	handler := &AskHandler{Engine: engine}

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"   "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	err := handler.ask(ctx)
	if err == nil {
		t.Fatalf("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
	if engine.calls != 0 {
		t.Fatalf("engine must not run for an empty question")
	}
}

func TestClearHistoryWithoutStoreIsNoContent(t *testing.T) {
	e := echo.New()
	handler := &AskHandler{Engine: &stubEngine{}}

	req := httptest.NewRequest(http.MethodDelete, "/api/history", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	if err := handler.clearHistory(ctx); err != nil {
		t.Fatalf("clearHistory: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
}

func TestListRunsReturnsUserRuns(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &AskHandler{Engine: &stubEngine{}, Store: &store.Store{DB: db}}

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, user_id, question, answer, pipeline`).
		WithArgs("user-1", 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "question", "answer", "pipeline", "score",
			"fallback", "units_spent", "duration_ms", "created_at",
		}).AddRow("run-1", "user-1", "q1", "a1", "websearch", 0.7, false, 2.0, int64(900), created))

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	if err := handler.listRuns(ctx); err != nil {
		t.Fatalf("listRuns: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var runs []models.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Pipeline != "websearch" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
