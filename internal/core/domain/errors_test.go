package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatching(t *testing.T) {
	detailed := Detail(ErrInsufficientStock, "need %d more", 2)
	wrapped := fmt.Errorf("record movement: %w", detailed)

	if !errors.Is(wrapped, ErrInsufficientStock) {
		t.Error("detail error should match its sentinel")
	}
	if errors.Is(wrapped, ErrInsufficientPayment) {
		t.Error("detail error matched a different sentinel")
	}
	if KindOf(wrapped) != KindConflict {
		t.Errorf("expected conflict, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("plain errors should classify as internal")
	}
}

func TestValidationMessage(t *testing.T) {
	err := Validation(map[string]string{"quantity": "is required", "customer_name": "is required"})

	want := "invalid input (customer_name: is required, quantity: is required)"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("validation error should match ErrInvalidInput")
	}
}

func TestAsEngineError(t *testing.T) {
	if AsEngineError("op", nil) != nil {
		t.Error("nil should pass through")
	}
	if err := AsEngineError("op", ErrOrderNotFound); err != ErrOrderNotFound {
		t.Errorf("engine error should pass through, got %v", err)
	}

	err := AsEngineError("insert order", errors.New("deadlock"))
	if KindOf(err) != KindInternal {
		t.Errorf("expected internal, got %s", KindOf(err))
	}
	if err.Error() != "insert order: deadlock" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
