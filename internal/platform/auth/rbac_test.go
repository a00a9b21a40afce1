package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles []string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), StaffRolesKey, roles)
	req = req.WithContext(ctx)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allows(t *testing.T) {
	c := contextWithRoles([]string{"nurse"})
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	if err := RequireRole("nurse", "physician")(handler)(c); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := contextWithRoles([]string{"admin"})
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	if err := RequireRole("physician")(handler)(c); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRequireRole_Forbids(t *testing.T) {
	c := contextWithRoles([]string{"counselor"})
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	err := RequireRole("nurse", "physician")(handler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHasRole(t *testing.T) {
	if !HasRole([]string{"nurse"}, "nurse") {
		t.Error("expected nurse to have role nurse")
	}
	if !HasRole([]string{"admin"}, "physician") {
		t.Error("expected admin to pass any role check")
	}
	if HasRole([]string{"counselor"}, "nurse") {
		t.Error("expected counselor to fail nurse check")
	}
}

func TestStaffIDFromContext_Empty(t *testing.T) {
	if id := StaffIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty staff id, got %q", id)
	}
}
