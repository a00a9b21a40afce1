package verification

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/otpcare/emr/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	staff.POST("/patients/:id/verification", h.Verify)
	staff.GET("/patients/:id/enrollment", h.GetEnrollment)

	manage := api.Group("", auth.RequireRole("admin", "nurse"))
	manage.POST("/patients/:id/enrollment", h.Enroll)
	manage.DELETE("/patients/:id/enrollment", h.Revoke)
}

type verifyRequest struct {
	Method string `json:"method"`
	PIN    string `json:"pin,omitempty"`
}

func (h *Handler) Verify(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.Verify(c.Request().Context(), patientID, req.Method, req.PIN)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotEnrolled), errors.Is(err, ErrModalityUnavailable):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusOK, result)
}

type enrollRequest struct {
	PIN         string `json:"pin"`
	Facial      bool   `json:"facial"`
	Fingerprint bool   `json:"fingerprint"`
}

func (h *Handler) Enroll(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req enrollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	enrollment, err := h.svc.Enroll(c.Request().Context(), patientID, req.PIN, req.Facial, req.Fingerprint)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, enrollment)
}

func (h *Handler) GetEnrollment(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	enrollment, err := h.svc.GetEnrollment(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active enrollment")
	}
	return c.JSON(http.StatusOK, enrollment)
}

func (h *Handler) Revoke(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	if err := h.svc.Revoke(c.Request().Context(), patientID); err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return echo.NewHTTPError(http.StatusNotFound, "no active enrollment")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
