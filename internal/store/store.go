package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/roundtablehq/roundtable/config"
	"github.com/roundtablehq/roundtable/models"
)

// Store is the postgres persistence layer: users, answered runs and the
// standing questions the scheduler re-asks.
type Store struct {
	DB *sql.DB
}

func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store from an explicit postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`,
		email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Run operations

func (s *Store) SaveRun(ctx context.Context, run models.Run) error {
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, question, answer, pipeline, score, fallback, units_spent, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		run.ID, nullString(run.UserID), run.Question, run.Answer, run.Pipeline,
		run.Score, run.Fallback, run.UnitsSpent, run.Duration.Milliseconds(), created)
	return err
}

func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, question, answer, pipeline, score, fallback, units_spent, duration_ms, created_at
FROM runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		var (
			run        models.Run
			user       sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&run.ID, &user, &run.Question, &run.Answer, &run.Pipeline,
			&run.Score, &run.Fallback, &run.UnitsSpent, &durationMS, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.UserID = user.String
		run.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}

// Standing question operations

func (s *Store) CreateStandingQuestion(ctx context.Context, userID, question, cronSpec string) (models.StandingQuestion, error) {
	sq := models.StandingQuestion{UserID: userID, Question: question, CronSpec: cronSpec, Enabled: true}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO standing_questions (user_id, question, cron_spec) VALUES ($1,$2,$3) RETURNING id, created_at`,
		userID, question, cronSpec).Scan(&sq.ID, &sq.CreatedAt)
	return sq, err
}

func (s *Store) ListStandingQuestions(ctx context.Context, userID string) ([]models.StandingQuestion, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, question, cron_spec, enabled, last_run_at, created_at
FROM standing_questions WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStandingQuestions(rows)
}

// ListEnabledStandingQuestions returns every enabled question across users,
// for the scheduler sweep.
func (s *Store) ListEnabledStandingQuestions(ctx context.Context) ([]models.StandingQuestion, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, question, cron_spec, enabled, last_run_at, created_at
FROM standing_questions WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStandingQuestions(rows)
}

func (s *Store) SetStandingQuestionEnabled(ctx context.Context, id, userID string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE standing_questions SET enabled=$1 WHERE id=$2 AND user_id=$3`, enabled, id, userID)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *Store) DeleteStandingQuestion(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM standing_questions WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// MarkStandingQuestionRun records when the scheduler last fired a question.
func (s *Store) MarkStandingQuestionRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE standing_questions SET last_run_at=$1 WHERE id=$2`, at, id)
	return err
}

func scanStandingQuestions(rows *sql.Rows) ([]models.StandingQuestion, error) {
	var out []models.StandingQuestion
	for rows.Next() {
		var (
			sq      models.StandingQuestion
			lastRun sql.NullTime
		)
		if err := rows.Scan(&sq.ID, &sq.UserID, &sq.Question, &sq.CronSpec, &sq.Enabled, &lastRun, &sq.CreatedAt); err != nil {
			return nil, err
		}
		sq.LastRunAt = lastRun.Time
		out = append(out, sq)
	}
	return out, rows.Err()
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
