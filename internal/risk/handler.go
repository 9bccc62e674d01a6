package risk

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Service is the part of *Engine the HTTP surface uses.
type Service interface {
	Evaluate(ctx context.Context, patientID uuid.UUID) (*Evaluation, error)
	OnPatientDataChanged(ctx context.Context, patientID uuid.UUID) bool
}

// SweepTrigger runs one leased sweep. *Sweeper implements it.
type SweepTrigger interface {
	RunOnce(ctx context.Context) (*SweepReport, bool, error)
}

type Handler struct {
	svc     Service
	sweeper SweepTrigger
}

func NewHandler(svc Service, sweeper SweepTrigger) *Handler {
	return &Handler{svc: svc, sweeper: sweeper}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/risk", h.GetRisk)
	api.POST("/patients/:id/risk/trigger", h.TriggerRisk)
	api.POST("/risk/sweeps", h.RunSweep)
}

type triggerResponse struct {
	PatientID uuid.UUID `json:"patient_id"`
	Queued    bool      `json:"queued"`
}

type sweepResponse struct {
	Ran    bool         `json:"ran"`
	Report *SweepReport `json:"report,omitempty"`
}

// GetRisk returns the current evaluation without creating alerts.
func (h *Handler) GetRisk(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	ev, err := h.svc.Evaluate(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

// TriggerRisk is called by the record-keeping layer after it changes a
// patient's clinical, treatment or appointment data.
func (h *Handler) TriggerRisk(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	queued := h.svc.OnPatientDataChanged(c.Request().Context(), id)
	return c.JSON(http.StatusAccepted, triggerResponse{PatientID: id, Queued: queued})
}

// RunSweep runs one sweep synchronously. The sweep is detached from the
// request so a disconnecting client does not abort it.
func (h *Handler) RunSweep(c echo.Context) error {
	if h.sweeper == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sweeper not configured")
	}
	report, ran, err := h.sweeper.RunOnce(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return toHTTPError(err)
	}
	if !ran {
		return c.JSON(http.StatusConflict, sweepResponse{Ran: false})
	}
	return c.JSON(http.StatusOK, sweepResponse{Ran: true, Report: report})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
