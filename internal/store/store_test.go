package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/roundtablehq/roundtable/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db}, mock
}

func TestCreateUser(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`)).
		WithArgs("a@b.c", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))

	id, err := st.CreateUser(context.Background(), "a@b.c", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id != "user-1" {
		t.Fatalf("id = %q, want user-1", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetUserByEmail(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email=$1`)).
		WithArgs("a@b.c").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("user-1", "hash"))

	id, hash, err := st.GetUserByEmail(context.Background(), "a@b.c")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if id != "user-1" || hash != "hash" {
		t.Fatalf("got %q/%q", id, hash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRun(t *testing.T) {
	st, mock := newMockStore(t)

	run := models.Run{
		ID:         "run-1",
		UserID:     "user-1",
		Question:   "how did the quarter go",
		Answer:     "revenue grew",
		Pipeline:   "documents",
		Score:      0.8,
		UnitsSpent: 3,
		Duration:   1500 * time.Millisecond,
	}
	query := regexp.QuoteMeta(`INSERT INTO runs (id, user_id, question, answer, pipeline, score, fallback, units_spent, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`)
	mock.ExpectExec(query).
		WithArgs(run.ID, sql.NullString{String: "user-1", Valid: true}, run.Question, run.Answer,
			run.Pipeline, run.Score, false, run.UnitsSpent, int64(1500), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRunAnonymousUser(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs("run-1", sql.NullString{}, "q", "a", "", 0.0, true, 0.0, int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.SaveRun(context.Background(), models.Run{ID: "run-1", Question: "q", Answer: "a", Fallback: true})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRuns(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "question", "answer", "pipeline", "score", "fallback", "units_spent", "duration_ms", "created_at"}).
		AddRow("run-2", "user-1", "q2", "a2", "websearch", 0.7, false, 2.0, int64(800), now).
		AddRow("run-1", nil, "q1", "a1", "", 0.0, true, 1.0, int64(200), now.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`)).
		WithArgs("user-1", 20).
		WillReturnRows(rows)

	runs, err := st.ListRuns(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != "run-2" || runs[0].Duration != 800*time.Millisecond {
		t.Fatalf("runs[0] = %+v", runs[0])
	}
	if runs[1].UserID != "" || !runs[1].Fallback {
		t.Fatalf("runs[1] = %+v", runs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateStandingQuestion(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO standing_questions (user_id, question, cron_spec) VALUES ($1,$2,$3) RETURNING id, created_at`)).
		WithArgs("user-1", "weekly revenue recap", "@daily").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("sq-1", now))

	sq, err := st.CreateStandingQuestion(context.Background(), "user-1", "weekly revenue recap", "@daily")
	if err != nil {
		t.Fatalf("CreateStandingQuestion: %v", err)
	}
	if sq.ID != "sq-1" || !sq.Enabled || sq.UserID != "user-1" {
		t.Fatalf("sq = %+v", sq)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListEnabledStandingQuestions(t *testing.T) {
	st, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "question", "cron_spec", "enabled", "last_run_at", "created_at"}).
		AddRow("sq-1", "user-1", "q", "@hourly", true, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`FROM standing_questions WHERE enabled ORDER BY created_at`)).
		WillReturnRows(rows)

	sqs, err := st.ListEnabledStandingQuestions(context.Background())
	if err != nil {
		t.Fatalf("ListEnabledStandingQuestions: %v", err)
	}
	if len(sqs) != 1 || !sqs[0].LastRunAt.IsZero() {
		t.Fatalf("sqs = %+v", sqs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteStandingQuestionMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM standing_questions WHERE id=$1 AND user_id=$2`)).
		WithArgs("sq-404", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.DeleteStandingQuestion(context.Background(), "sq-404", "user-1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
