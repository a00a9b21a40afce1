package db

import (
	"context"
	"testing"
)

func TestClinicIDPattern(t *testing.T) {
	valid := []string{"default", "main_street", "Site42"}
	for _, id := range valid {
		if !clinicIDPattern.MatchString(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{"", "a-b", "x;DROP TABLE", "clinic it"}
	for _, id := range invalid {
		if clinicIDPattern.MatchString(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn on empty context")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx on empty context")
	}
}

func TestTxFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not a tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil tx for wrong stored type")
	}
}

func TestClinicFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), ClinicIDKey, "main_street")
	if got := ClinicFromContext(ctx); got != "main_street" {
		t.Errorf("expected main_street, got %q", got)
	}
}
