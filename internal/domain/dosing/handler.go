package dosing

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/otpcare/emr/internal/domain/pump"
	"github.com/otpcare/emr/internal/domain/verification"
	"github.com/otpcare/emr/internal/platform/auth"
	"github.com/otpcare/emr/pkg/dosage"
)

// IdempotencyKeyHeader deduplicates retried dispense submissions.
const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	staff.GET("/patients/:id/dosing-session", h.LoadSession)
	staff.GET("/patients/:id/holds", h.ListHolds)
	staff.GET("/patients/:id/orders/active", h.GetActiveOrder)

	nurse := api.Group("", auth.RequireRole("admin", "nurse"))
	nurse.POST("/patients/:id/doses", h.Dispense)

	holdWrite := api.Group("", auth.RequireRole("admin", "physician", "nurse", "counselor"))
	holdWrite.POST("/patients/:id/holds", h.CreateHold)
	holdWrite.POST("/holds/:id/clear", h.ClearHold)

	physician := api.Group("", auth.RequireRole("admin", "physician"))
	physician.POST("/patients/:id/orders", h.CreateOrder)
	physician.POST("/orders/:id/status", h.SetOrderStatus)
}

// httpError maps the dispensing failure taxonomy onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNoStaff):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, verification.ErrNotVerified):
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, ErrHoldActive):
		return echo.NewHTTPError(http.StatusLocked, err.Error())
	case errors.Is(err, ErrDuplicateDispense), errors.Is(err, ErrStaleVersion), errors.Is(err, ErrOrderExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoActiveOrder), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrRoleNotRequired),
		errors.Is(err, pump.ErrNoBottle), errors.Is(err, pump.ErrNotCalibrated), errors.Is(err, pump.ErrInsufficientVolume):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrHoldNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) LoadSession(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	session, err := h.svc.LoadSession(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, session)
}

type dispenseRequest struct {
	VerificationToken string  `json:"verification_token"`
	Amount            string  `json:"amount"`
	DosedAt           *string `json:"dosed_at,omitempty"`
	WitnessID         *string `json:"witness_id,omitempty"`
	Notes             *string `json:"notes,omitempty"`
	BehaviorNotes     *string `json:"behavior_notes,omitempty"`
}

func (h *Handler) Dispense(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	key := c.Request().Header.Get(IdempotencyKeyHeader)
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, IdempotencyKeyHeader+" header is required")
	}
	terminal := c.Request().Header.Get(pump.TerminalHeader)
	if terminal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, pump.TerminalHeader+" header is required")
	}

	var body dispenseRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	amount, err := dosage.Parse(body.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "amount: "+err.Error())
	}

	req := DispenseRequest{
		PatientID:         patientID,
		VerificationToken: body.VerificationToken,
		Amount:            amount,
		TerminalID:        terminal,
		IdempotencyKey:    key,
		DispensedBy:       auth.StaffUUIDFromContext(c.Request().Context()),
		Notes:             body.Notes,
		BehaviorNotes:     body.BehaviorNotes,
	}
	if body.DosedAt != nil {
		t, err := time.Parse(time.RFC3339, *body.DosedAt)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "dosed_at must be RFC3339")
		}
		req.DosedAt = t
	}
	if body.WitnessID != nil {
		wid, err := uuid.Parse(*body.WitnessID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid witness_id")
		}
		req.WitnessID = &wid
	}

	entry, err := h.svc.Dispense(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

type createHoldRequest struct {
	Type          string   `json:"type"`
	Reason        string   `json:"reason"`
	RolesRequired []string `json:"roles_required,omitempty"`
}

func (h *Handler) CreateHold(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req createHoldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	hold := &DosingHold{
		PatientID:     patientID,
		Type:          req.Type,
		Reason:        req.Reason,
		RolesRequired: req.RolesRequired,
		CreatedBy:     auth.StaffUUIDFromContext(c.Request().Context()),
	}
	if err := h.svc.CreateHold(c.Request().Context(), hold); err != nil {
		if errors.Is(err, ErrNoStaff) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, hold)
}

func (h *Handler) ListHolds(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	holds, err := h.svc.ListActiveHolds(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if holds == nil {
		holds = []*DosingHold{}
	}
	return c.JSON(http.StatusOK, holds)
}

type clearHoldRequest struct {
	Role    string `json:"role"`
	Version int    `json:"version"`
}

func (h *Handler) ClearHold(c echo.Context) error {
	holdID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hold id")
	}
	var req clearHoldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// The signing role must belong to the caller's token.
	roles := auth.RolesFromContext(c.Request().Context())
	if !auth.HasRole(roles, req.Role) && !auth.HasRole(roles, "admin") {
		return echo.NewHTTPError(http.StatusForbidden, "caller does not hold role "+req.Role)
	}

	hold, err := h.svc.ClearHold(c.Request().Context(), holdID, req.Role, req.Version)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hold)
}

type createOrderRequest struct {
	Medication  string `json:"medication"`
	DailyDose   string `json:"daily_dose"`
	MaxTakehome int    `json:"max_takehome"`
	StartDate   string `json:"start_date,omitempty"`
}

func (h *Handler) CreateOrder(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dose, err := dosage.Parse(req.DailyDose)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "daily_dose: "+err.Error())
	}

	order := &MedicationOrder{
		PatientID:    patientID,
		Medication:   req.Medication,
		DailyDose:    dose,
		MaxTakehome:  req.MaxTakehome,
		PrescribedBy: auth.StaffUUIDFromContext(c.Request().Context()),
	}
	if req.StartDate != "" {
		t, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		}
		order.StartDate = t
	}

	if err := h.svc.CreateOrder(c.Request().Context(), order); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) GetActiveOrder(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	order, err := h.svc.GetActiveOrder(c.Request().Context(), patientID)
	if err != nil {
		if errors.Is(err, ErrNoActiveOrder) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, order)
}

type setOrderStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetOrderStatus(c echo.Context) error {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	var req setOrderStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetOrderStatus(c.Request().Context(), orderID, req.Status); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
