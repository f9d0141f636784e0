package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/roundtablehq/roundtable/internal/history"
	"github.com/roundtablehq/roundtable/internal/store"
	"github.com/roundtablehq/roundtable/models"
)

// Answerer is the engine as the API sees it.
type Answerer interface {
	Answer(ctx context.Context, q models.Query) models.Answer
}

// AskHandler answers questions for authenticated users and records
// every run. Conversation history is read before and appended after
// each answer so follow-up questions carry context.
type AskHandler struct {
	Engine       Answerer
	Store        *store.Store
	History      *history.Store
	HistoryTurns int
	Logger       *log.Logger
}

type AskRequest struct {
	Question string `json:"question"`
}

type AskResponse struct {
	RunID      string  `json:"run_id"`
	Answer     string  `json:"answer"`
	Pipeline   string  `json:"pipeline,omitempty"`
	Score      float64 `json:"score"`
	Fallback   bool    `json:"fallback"`
	Iterations int     `json:"iterations"`
	UnitsSpent float64 `json:"units_spent"`
	DurationMS int64   `json:"duration_ms"`
}

func (h *AskHandler) Register(g *echo.Group) {
	g.POST("/ask", h.ask)
	g.GET("/runs", h.listRuns)
	g.DELETE("/history", h.clearHistory)
}

func (h *AskHandler) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	userID, _ := c.Get("user_id").(string)
	ctx := c.Request().Context()

	var turns []models.Turn
	if h.History != nil && userID != "" {
		var err error
		turns, err = h.History.Recent(ctx, userID, h.historyTurns())
		if err != nil {
			h.logf("history read for %s failed: %v", userID, err)
			turns = nil
		}
	}

	answer := h.Engine.Answer(ctx, models.NewQuery(question, turns))

	run := models.Run{
		ID:         uuid.New().String(),
		UserID:     userID,
		Question:   question,
		Answer:     answer.Text,
		Pipeline:   answer.Pipeline,
		Score:      answer.Score,
		Fallback:   answer.Fallback,
		UnitsSpent: answer.UnitsSpent,
		Duration:   answer.Duration,
		CreatedAt:  time.Now().UTC(),
	}
	if h.Store != nil {
		if err := h.Store.SaveRun(ctx, run); err != nil {
			h.logf("save run %s: %v", run.ID, err)
		}
	}
	if h.History != nil && userID != "" {
		err := h.History.Append(ctx, userID,
			models.Turn{Role: models.RoleUser, Content: question},
			models.Turn{Role: models.RoleAssistant, Content: answer.Text},
		)
		if err != nil {
			h.logf("history append for %s failed: %v", userID, err)
		}
	}
	observeRun(answer)

	return c.JSON(http.StatusOK, AskResponse{
		RunID:      run.ID,
		Answer:     answer.Text,
		Pipeline:   answer.Pipeline,
		Score:      answer.Score,
		Fallback:   answer.Fallback,
		Iterations: answer.Iterations,
		UnitsSpent: answer.UnitsSpent,
		DurationMS: answer.Duration.Milliseconds(),
	})
}

func (h *AskHandler) listRuns(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	runs, err := h.Store.ListRuns(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list runs")
	}
	return c.JSON(http.StatusOK, runs)
}

// clearHistory drops the caller's conversation history so the next question
// starts a fresh thread.
func (h *AskHandler) clearHistory(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	if h.History == nil || userID == "" {
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.History.Clear(c.Request().Context(), userID); err != nil {
		h.logf("history clear for %s failed: %v", userID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "clear history")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AskHandler) historyTurns() int {
	if h.HistoryTurns > 0 {
		return h.HistoryTurns
	}
	return 10
}

func (h *AskHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}
