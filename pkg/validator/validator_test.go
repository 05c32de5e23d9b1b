package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Age      int    `json:"age" validate:"gte=18"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Age:      20,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Username: "",
		Email:    "invalid",
		Age:      10,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}

	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("taskly", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "taskly"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"taskly"`
	}

	if err := ValidateStruct(custom{Value: "taskly"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}

func TestOTPRule(t *testing.T) {
	type payload struct {
		Code string `json:"code" validate:"required,otp"`
	}

	if err := ValidateStruct(payload{Code: "012345"}); err != nil {
		t.Fatalf("expected six digits to pass, got %v", err)
	}
	for _, code := range []string{"12345", "1234567", "12a456", "１２３４５６"} {
		if err := ValidateStruct(payload{Code: code}); err == nil {
			t.Fatalf("expected %q to be rejected", code)
		}
	}
}

func TestPasswordRule(t *testing.T) {
	type payload struct {
		Password string `json:"password" validate:"required,password"`
	}

	if err := ValidateStruct(payload{Password: "correct horse"}); err != nil {
		t.Fatalf("expected password to pass, got %v", err)
	}
	if err := ValidateStruct(payload{Password: "short"}); err == nil {
		t.Fatal("expected short password to fail")
	}
	if err := ValidateStruct(payload{Password: "          "}); err == nil {
		t.Fatal("expected blank password to fail")
	}
}

func TestValidateVar(t *testing.T) {
	if err := ValidateVar("longenough", "required,password"); err != nil {
		t.Fatalf("expected password to pass, got %v", err)
	}
	if err := ValidateVar("short", "required,password"); err == nil {
		t.Fatal("expected short password to fail")
	}
}
