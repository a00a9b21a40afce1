package orders

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/otpcare/emr/internal/domain/dosing"
	"github.com/otpcare/emr/internal/platform/auth"
	"github.com/otpcare/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	nurse := api.Group("", auth.RequireRole("admin", "nurse"))
	nurse.POST("/medication-order-requests", h.Submit)

	physician := api.Group("", auth.RequireRole("admin", "physician"))
	physician.GET("/medication-order-requests/pending", h.ListPending)
	physician.POST("/medication-order-requests/:id/approve", h.Approve)
	physician.POST("/medication-order-requests/:id/deny", h.Deny)
}

type submitRequest struct {
	PatientID      string `json:"patient_id"`
	PhysicianID    string `json:"physician_id"`
	ChangeType     string `json:"change_type"`
	RequestedDose  string `json:"requested_dose"`
	Justification  string `json:"justification"`
	NurseSignature string `json:"nurse_signature"`
}

func (h *Handler) Submit(c echo.Context) error {
	var body submitRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	in := Input{
		ChangeType:     body.ChangeType,
		RequestedDose:  body.RequestedDose,
		Justification:  body.Justification,
		NurseSignature: body.NurseSignature,
	}
	// Malformed ids fall through as uuid.Nil and surface as field errors.
	in.PatientID, _ = uuid.Parse(body.PatientID)
	in.PhysicianID, _ = uuid.Parse(body.PhysicianID)

	cr, err := h.svc.Submit(c.Request().Context(), in, auth.StaffUUIDFromContext(c.Request().Context()))
	if err != nil {
		var ve *ValidationError
		switch {
		case errors.As(err, &ve):
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"message": "validation failed",
				"fields":  ve.Fields,
			})
		case errors.Is(err, dosing.ErrNoStaff):
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		case errors.Is(err, dosing.ErrNoActiveOrder):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, cr)
}

func (h *Handler) ListPending(c echo.Context) error {
	physicianID := auth.StaffUUIDFromContext(c.Request().Context())
	if physicianID == uuid.Nil {
		return echo.NewHTTPError(http.StatusUnauthorized, dosing.ErrNoStaff.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPending(c.Request().Context(), physicianID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Approve(c echo.Context) error {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	cr, err := h.svc.Approve(c.Request().Context(), requestID, auth.StaffUUIDFromContext(c.Request().Context()))
	if err != nil {
		return reviewError(err)
	}
	return c.JSON(http.StatusOK, cr)
}

type denyRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Deny(c echo.Context) error {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	var body denyRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cr, err := h.svc.Deny(c.Request().Context(), requestID, auth.StaffUUIDFromContext(c.Request().Context()), body.Reason)
	if err != nil {
		return reviewError(err)
	}
	return c.JSON(http.StatusOK, cr)
}

func reviewError(err error) error {
	switch {
	case errors.Is(err, ErrNotPending), errors.Is(err, dosing.ErrStaleVersion):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrWrongPhysician):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, dosing.ErrNoActiveOrder):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
