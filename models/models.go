package models

import (
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one prior exchange in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Query is the immutable input to one engine run: the question text plus the
// ordered conversation history that preceded it. Pipelines treat it as
// read-only.
type Query struct {
	Text    string `json:"text"`
	History []Turn `json:"history,omitempty"`
}

// NewQuery copies the history so later appends by the caller cannot leak into
// a running request.
func NewQuery(text string, history []Turn) Query {
	q := Query{Text: text}
	if len(history) > 0 {
		q.History = make([]Turn, len(history))
		copy(q.History, history)
	}
	return q
}

// SearchResult is one hit from a web search source.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Answer is what the engine returns for a query. It is always populated:
// when no pipeline produced anything usable, Fallback is true and Text
// carries the canned response.
type Answer struct {
	Text     string  `json:"text"`
	Pipeline string  `json:"pipeline,omitempty"`
	Score    float64 `json:"score"`
	Fallback bool    `json:"fallback"`

	Iterations int           `json:"iterations"`
	UnitsSpent float64       `json:"units_spent"`
	Duration   time.Duration `json:"duration"`
}

// Run is a persisted engine invocation.
type Run struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id,omitempty"`
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Pipeline   string        `json:"pipeline,omitempty"`
	Score      float64       `json:"score"`
	Fallback   bool          `json:"fallback"`
	UnitsSpent float64       `json:"units_spent"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// StandingQuestion is a question re-asked on a cron schedule.
type StandingQuestion struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Question  string    `json:"question"`
	CronSpec  string    `json:"cron_spec"`
	Enabled   bool      `json:"enabled"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
