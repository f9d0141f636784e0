package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/roundtablehq/roundtable/internal/store"
)

// QuestionsHandler manages standing questions, which the scheduler
// answers on their cron cadence.
type QuestionsHandler struct {
	Store *store.Store
}

type QuestionCreateRequest struct {
	Question string `json:"question"`
	CronSpec string `json:"cron_spec"`
}

type QuestionEnableRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *QuestionsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.PUT("/:id/enabled", h.setEnabled)
	g.DELETE("/:id", h.remove)
}

func (h *QuestionsHandler) create(c echo.Context) error {
	var req QuestionCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	spec := strings.TrimSpace(req.CronSpec)
	if spec == "" {
		spec = "@daily"
	}
	if _, err := cronexpr.Parse(spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron spec")
	}
	userID, _ := c.Get("user_id").(string)

	sq, err := h.Store.CreateStandingQuestion(c.Request().Context(), userID, question, spec)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "create standing question")
	}
	return c.JSON(http.StatusCreated, sq)
}

func (h *QuestionsHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)

	questions, err := h.Store.ListStandingQuestions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list standing questions")
	}
	return c.JSON(http.StatusOK, questions)
}

func (h *QuestionsHandler) setEnabled(c echo.Context) error {
	var req QuestionEnableRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	userID, _ := c.Get("user_id").(string)

	err := h.Store.SetStandingQuestionEnabled(c.Request().Context(), c.Param("id"), userID, req.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "standing question not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "update standing question")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *QuestionsHandler) remove(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)

	err := h.Store.DeleteStandingQuestion(c.Request().Context(), c.Param("id"), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "standing question not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "delete standing question")
	}
	return c.NoContent(http.StatusNoContent)
}
