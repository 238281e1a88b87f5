package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestFatalCodes(t *testing.T) {
	tests := []struct {
		code  Code
		fatal bool
	}{
		{CodeInvalidRoute, true},
		{CodePrematureDone, true},
		{CodeMissingAnswer, true},
		{CodeSchemaViolation, true},
		{CodeInvalidInput, true},
		{CodeSystem, false},
		{CodeRedis, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("session: %w", NewFatal(tt.code, errors.New("boom")))
			if got := IsFatal(err); got != tt.fatal {
				t.Fatalf("IsFatal = %v, want %v", got, tt.fatal)
			}
			if got := CodeOf(err); got != tt.code {
				t.Fatalf("CodeOf = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestNewFatalStatus(t *testing.T) {
	if got := NewFatal(CodeInvalidInput, nil).Status; got != http.StatusBadRequest {
		t.Fatalf("invalid input status = %d", got)
	}
	if got := NewFatal(CodeInvalidRoute, nil).Status; got != http.StatusBadGateway {
		t.Fatalf("invalid route status = %d", got)
	}
}

func TestWrapRedis(t *testing.T) {
	if WrapRedis(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	err := WrapRedis(redis.Nil)
	var e *Error
	if !errors.As(err, &e) || e.Status != http.StatusNotFound {
		t.Fatalf("expected not found status, got %v", err)
	}
	if !errors.Is(err, redis.Nil) {
		t.Fatal("expected redis.Nil to stay reachable through Unwrap")
	}
	other := WrapRedis(errors.New("conn refused"))
	if !errors.As(other, &e) || e.Status != http.StatusBadGateway {
		t.Fatalf("expected bad gateway, got %v", other)
	}
}

func TestErrorMessage(t *testing.T) {
	e := Fatalf(CodeMissingAnswer, "turn %d", 3)
	if got, want := e.Error(), ContractErrorMessage+": turn 3"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if got := (&Error{Message: "bare"}).Error(); got != "bare" {
		t.Fatalf("Error() = %q", got)
	}
}
