package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "judgehub/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SolutionNotFound, "Solution not found"},
		{InvalidParams, "Invalid parameters"},
		{DatabaseError, "Database operation failed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{InvalidStages, 400},
		{Unauthorized, 401},
		{RunnerKeyInvalid, 401},
		{Forbidden, 403},
		{LabelNotAllowed, 403},
		{NotFound, 404},
		{InstanceNotFound, 404},
		{TaskConflict, 409},
		{RanklistTaskConflict, 409},
		{SolutionNotCreated, 412},
		{TooManyRequests, 429},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNew(t *testing.T) {
	err := New(SolutionNotFound)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	if err.Code != SolutionNotFound {
		t.Errorf("Code = %v, want %v", err.Code, SolutionNotFound)
	}

	if err.Error() != SolutionNotFound.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), SolutionNotFound.Message())
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ContestNotFound, "contest %s not found", "c1")

	want := "contest c1 not found"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, DatabaseError)

	if wrappedErr.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, DatabaseError)
	}

	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}

	if Wrap(nil, DatabaseError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapKeepsCodedMessage(t *testing.T) {
	inner := New(TaskConflict).WithMessage("held by r2")
	outer := fmt.Errorf("patch: %w", inner)

	got := Wrap(outer, RanklistTaskConflict)
	if got.Code != RanklistTaskConflict {
		t.Errorf("Code = %v, want %v", got.Code, RanklistTaskConflict)
	}
	if got.Error() != "held by r2" {
		t.Errorf("Error() = %v, want held by r2", got.Error())
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(ValidationFailed).
		WithDetail("field", "stages").
		WithDetail("reason", "not sorted")

	if err.Details["field"] != "stages" {
		t.Error("Field detail not set correctly")
	}

	if err.Details["reason"] != "not sorted" {
		t.Error("Reason detail not set correctly")
	}
}

func TestError_WithMessage(t *testing.T) {
	customMsg := "custom error message"
	err := New(InternalServerError).WithMessage(customMsg)

	if err.Error() != customMsg {
		t.Errorf("Error() = %v, want %v", err.Error(), customMsg)
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "nil error",
			err:  nil,
			want: Success,
		},
		{
			name: "custom error",
			err:  New(InstanceNotFound),
			want: InstanceNotFound,
		},
		{
			name: "wrapped custom error",
			err:  fmt.Errorf("claim: %w", New(TaskConflict)),
			want: TaskConflict,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: InternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(SolutionNotFound)

	if !Is(err, SolutionNotFound) {
		t.Error("Is() should return true for matching code")
	}

	if Is(err, DatabaseError) {
		t.Error("Is() should return false for non-matching code")
	}

	if Is(nil, SolutionNotFound) {
		t.Error("Is() should return false for nil error")
	}
}

func TestIsConflict(t *testing.T) {
	for _, code := range []ErrorCode{Conflict, TaskConflict, RanklistTaskConflict, InstanceTransitionDenied} {
		if !IsConflict(New(code)) {
			t.Errorf("IsConflict(%v) = false, want true", code)
		}
	}
	if IsConflict(New(NotFound)) || IsConflict(nil) {
		t.Error("IsConflict should be false for non-conflict errors")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("BadRequest", func(t *testing.T) {
		err := BadRequest("invalid input")
		if err.Code != InvalidParams {
			t.Error("BadRequest should use InvalidParams code")
		}
	})

	t.Run("NotFoundError", func(t *testing.T) {
		err := NotFoundError("runner")
		if err.Code != NotFound || err.Error() != "runner not found" {
			t.Error("NotFoundError should use NotFound code")
		}
	})

	t.Run("UnauthorizedError", func(t *testing.T) {
		err := UnauthorizedError("token expired")
		if err.Code != Unauthorized {
			t.Error("UnauthorizedError should use Unauthorized code")
		}
	})

	t.Run("ConflictError", func(t *testing.T) {
		if err := ConflictError(TaskConflict, ""); err.Code != TaskConflict {
			t.Error("ConflictError should keep a conflict code")
		}
		if err := ConflictError(NotFound, "lost"); err.Code != Conflict {
			t.Error("ConflictError should fall back to Conflict")
		}
	})

	t.Run("InternalError", func(t *testing.T) {
		originalErr := errors.New("db error")
		err := InternalError(originalErr)
		if err.Code != InternalServerError {
			t.Error("InternalError should use InternalServerError code")
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("labels", "empty")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "labels" {
			t.Error("Field detail not set")
		}
	})
}
