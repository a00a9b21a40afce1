package pump

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/otpcare/emr/internal/platform/auth"
	"github.com/otpcare/emr/pkg/dosage"
)

// TerminalHeader identifies which dosing terminal a pump request is for.
const TerminalHeader = "X-Terminal-ID"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pump", auth.RequireRole("admin", "nurse"))
	g.POST("/bottle", h.LoadBottle)
	g.POST("/calibrate", h.Calibrate)
	g.GET("/state", h.State)
	g.POST("/reset", h.Reset)
}

func terminalID(c echo.Context) (string, error) {
	id := c.Request().Header.Get(TerminalHeader)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, TerminalHeader+" header is required")
	}
	return id, nil
}

type loadBottleRequest struct {
	Serial      string `json:"serial"`
	Medication  string `json:"medication"`
	StartVolume string `json:"start_volume"`
}

func (h *Handler) LoadBottle(c echo.Context) error {
	terminal, err := terminalID(c)
	if err != nil {
		return err
	}
	var req loadBottleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	volume, err := dosage.Parse(req.StartVolume)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "start_volume: "+err.Error())
	}

	bottle, err := h.svc.LoadBottle(terminal, req.Serial, req.Medication, volume)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, bottle)
}

func (h *Handler) Calibrate(c echo.Context) error {
	terminal, err := terminalID(c)
	if err != nil {
		return err
	}
	bottle, err := h.svc.Calibrate(c.Request().Context(), terminal)
	if err != nil {
		if errors.Is(err, ErrNoBottle) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, bottle)
}

func (h *Handler) State(c echo.Context) error {
	terminal, err := terminalID(c)
	if err != nil {
		return err
	}
	bottle, err := h.svc.State(terminal)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, bottle)
}

func (h *Handler) Reset(c echo.Context) error {
	terminal, err := terminalID(c)
	if err != nil {
		return err
	}
	h.svc.Reset(terminal)
	return c.NoContent(http.StatusNoContent)
}
