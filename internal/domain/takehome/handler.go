package takehome

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/otpcare/emr/internal/domain/dosing"
	"github.com/otpcare/emr/internal/domain/patient"
	"github.com/otpcare/emr/internal/domain/verification"
	"github.com/otpcare/emr/internal/platform/auth"
)

// PatientSource resolves patients for label rendering.
type PatientSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Handler struct {
	svc      *Service
	patients PatientSource
}

func NewHandler(svc *Service, patients PatientSource) *Handler {
	return &Handler{svc: svc, patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	nurse := api.Group("", auth.RequireRole("admin", "nurse"))
	nurse.POST("/patients/:id/takehome-batches", h.GenerateBatch)
	nurse.POST("/takehome-bottles/:id/fill", h.Fill)

	staff := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	staff.GET("/takehome-bottles/:id", h.GetBottle)
	staff.GET("/takehome-bottles/:id/label", h.Label)
	staff.GET("/takehome-batches/:id", h.ListBatch)
	staff.GET("/takehome-batches/:id/progress", h.Progress)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, dosing.ErrNoStaff):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, verification.ErrNotVerified):
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, ErrAlreadyFilled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrTakehomeLimit), errors.Is(err, ErrInvalidCount), errors.Is(err, dosing.ErrNoActiveOrder):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrBottleNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type generateRequest struct {
	Count             int    `json:"count"`
	StartDate         string `json:"start_date"`
	VerificationToken string `json:"verification_token"`
}

func (h *Handler) GenerateBatch(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var body generateRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req := GenerateRequest{
		PatientID:         patientID,
		Count:             body.Count,
		VerificationToken: body.VerificationToken,
		GeneratedBy:       auth.StaffUUIDFromContext(c.Request().Context()),
	}
	if body.StartDate != "" {
		t, err := time.Parse("2006-01-02", body.StartDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		}
		req.StartDate = t
	}

	bottles, err := h.svc.GenerateBatch(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, bottles)
}

func (h *Handler) Fill(c echo.Context) error {
	bottleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bottle id")
	}
	b, err := h.svc.Fill(c.Request().Context(), bottleID, auth.StaffUUIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetBottle(c echo.Context) error {
	bottleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bottle id")
	}
	b, err := h.svc.GetBottle(c.Request().Context(), bottleID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Label(c echo.Context) error {
	bottleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bottle id")
	}
	b, err := h.svc.GetBottle(c.Request().Context(), bottleID)
	if err != nil {
		return httpError(err)
	}
	p, err := h.patients.GetByID(c.Request().Context(), b.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return RenderLabel(c.Response(), NewLabelData(b, p))
}

func (h *Handler) ListBatch(c echo.Context) error {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch id")
	}
	bottles, err := h.svc.ListBatch(c.Request().Context(), batchID)
	if err != nil {
		return httpError(err)
	}
	if bottles == nil {
		bottles = []*Bottle{}
	}
	return c.JSON(http.StatusOK, bottles)
}

func (h *Handler) Progress(c echo.Context) error {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch id")
	}
	progress, err := h.svc.Progress(c.Request().Context(), batchID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, progress)
}
