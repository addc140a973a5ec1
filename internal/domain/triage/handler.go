package triage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medqueue/medqueue/pkg/pagination"
)

// Handler is the dashboard-facing HTTP surface over the engine. It deals in
// semantic values only; everything stateful lives in the engine.
type Handler struct {
	eng *Engine
}

func NewHandler(eng *Engine) *Handler {
	return &Handler{eng: eng}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.Enqueue)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/patients/:id/history", h.GetHistory)
	api.POST("/patients/:id/claim", h.Claim)
	api.POST("/patients/:id/complete", h.Complete)
	api.POST("/patients/:id/cancel", h.Cancel)
	api.GET("/queue", h.GetQueue)
	api.POST("/queue/next", h.Next)
}

type enqueueRequest struct {
	Symptoms    []Symptom  `json:"symptoms"`
	ArrivalTime *time.Time `json:"arrival_time,omitempty"`
	Actor       string     `json:"actor"`
}

func (h *Handler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	arrival := time.Time{}
	if req.ArrivalTime != nil {
		arrival = *req.ArrivalTime
	}
	id, err := h.eng.Enqueue(c.Request().Context(), req.Symptoms, arrival, actorOrDefault(req.Actor))
	if err != nil {
		return mapError(err)
	}
	view, err := h.eng.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	view, err := h.eng.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	events, err := h.eng.History(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	pg := pagination.FromContext(c)
	total := len(events)
	lo := pg.Offset
	if lo > total {
		lo = total
	}
	hi := lo + pg.Limit
	if hi > total {
		hi = total
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events[lo:hi], total, pg.Limit, pg.Offset))
}

type nextRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Actor    string    `json:"actor"`
}

func (h *Handler) Next(c echo.Context) error {
	var req nextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	rec, err := h.eng.NextForService(c.Request().Context(), req.DoctorID, actorFor(req.Actor, req.DoctorID))
	if errors.Is(err, ErrEmptyQueue) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type claimRequest struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	ExpectedVersion int64     `json:"expected_version"`
	Actor           string    `json:"actor"`
}

func (h *Handler) Claim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	rec, err := h.eng.ClaimForService(c.Request().Context(), id, req.DoctorID, req.ExpectedVersion, actorFor(req.Actor, req.DoctorID))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type transitionRequest struct {
	ExpectedVersion int64  `json:"expected_version"`
	Actor           string `json:"actor"`
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, h.eng.CompleteVisit)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.eng.Cancel)
}

func (h *Handler) transition(c echo.Context, apply func(ctx context.Context, id uuid.UUID, version int64, actor string) error) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := apply(c.Request().Context(), id, req.ExpectedVersion, actorOrDefault(req.Actor)); err != nil {
		return mapError(err)
	}
	view, err := h.eng.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetQueue(c echo.Context) error {
	return c.JSON(http.StatusOK, h.eng.Snapshot())
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return "dashboard"
	}
	return actor
}

func actorFor(actor string, doctorID uuid.UUID) string {
	if actor != "" {
		return actor
	}
	return "doctor:" + doctorID.String()
}

func mapError(err error) error {
	switch {
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotWaiting), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
