package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/roundtablehq/roundtable/internal/store"
	"github.com/roundtablehq/roundtable/models"
)

// Scheduler answers enabled standing questions on their cron cadence.
// A redis lock keeps multiple instances from answering the same
// question in the same window.
type Scheduler struct {
	Store    *store.Store
	Rdb      *redis.Client
	Engine   Answerer
	Logger   *log.Logger
	Interval time.Duration
	Stop     chan struct{}

	once sync.Once
}

func (s *Scheduler) Start() {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Shutdown() {
	s.once.Do(func() { close(s.Stop) })
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	questions, err := s.Store.ListEnabledStandingQuestions(ctx)
	if err != nil {
		s.Logger.Printf("list standing questions: %v", err)
		return
	}
	now := time.Now()
	for _, sq := range questions {
		var last *time.Time
		if !sq.LastRunAt.IsZero() {
			t := sq.LastRunAt
			last = &t
		}
		if !isDue(sq.CronSpec, last, now) {
			continue
		}

		// distributed lock to avoid duplicate runs
		if s.Rdb != nil {
			ok, _ := s.Rdb.SetNX(ctx, "sched:lock:"+sq.ID, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}
		if err := s.Store.MarkStandingQuestionRun(ctx, sq.ID, now); err != nil {
			s.Logger.Printf("mark standing question %s: %v", sq.ID, err)
			continue
		}
		go s.answer(sq)
	}
}

func (s *Scheduler) answer(sq models.StandingQuestion) {
	// jitter to avoid stampedes
	time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)

	ctx := context.Background()
	answer := s.Engine.Answer(ctx, models.NewQuery(sq.Question, nil))

	run := models.Run{
		ID:         uuid.New().String(),
		UserID:     sq.UserID,
		Question:   sq.Question,
		Answer:     answer.Text,
		Pipeline:   answer.Pipeline,
		Score:      answer.Score,
		Fallback:   answer.Fallback,
		UnitsSpent: answer.UnitsSpent,
		Duration:   answer.Duration,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Store.SaveRun(ctx, run); err != nil {
		s.Logger.Printf("save standing run %s: %v", run.ID, err)
		return
	}
	observeRun(answer)
	s.Logger.Printf("standing question %s answered by %q fallback=%t", sq.ID, answer.Pipeline, answer.Fallback)
}

// isDue reports whether a question with cronSpec should run at now
// given its last run time. Supports "@daily", "@hourly" and standard
// 5-field cron expressions; invalid specs fall back to @daily.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
