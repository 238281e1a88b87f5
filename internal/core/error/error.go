package errx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// ContractErrorMessage describes a collaborator that broke its output contract.
	ContractErrorMessage = "agent contract violation"
)

// Code classifies fatal session errors.
type Code string

const (
	CodeInvalidRoute    Code = "invalid_route"
	CodePrematureDone   Code = "premature_done"
	CodeMissingAnswer   Code = "missing_answer"
	CodeSchemaViolation Code = "schema_violation"
	CodeInvalidInput    Code = "invalid_input"
	CodeSystem          Code = "system"
	CodeRedis           Code = "redis"
)

// Error wraps an underlying error with a status, a code and a safe message.
type Error struct {
	Err     error
	Status  int
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error terminates a session as a contract violation.
func (e *Error) Fatal() bool {
	switch e.Code {
	case CodeInvalidRoute, CodePrematureDone, CodeMissingAnswer, CodeSchemaViolation, CodeInvalidInput:
		return true
	}
	return false
}

// New creates a new Error with the provided information.
func New(err error, status int, message string) *Error {
	return &Error{
		Err:     err,
		Status:  status,
		Code:    CodeSystem,
		Message: message,
	}
}

// NewFatal creates a session-terminating contract error.
func NewFatal(code Code, err error) *Error {
	status := http.StatusBadGateway
	if code == CodeInvalidInput {
		status = http.StatusBadRequest
	}
	return &Error{
		Err:     err,
		Status:  status,
		Code:    code,
		Message: ContractErrorMessage,
	}
}

// Fatalf is NewFatal with a formatted cause.
func Fatalf(code Code, format string, args ...any) *Error {
	return NewFatal(code, fmt.Errorf(format, args...))
}

// IsFatal reports whether err carries a fatal contract error anywhere in its chain.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return false
}

// CodeOf returns the code of the first *Error in the chain, or "" when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// WrapRedis maps Redis errors to the unified Error type with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return &Error{Err: err, Status: http.StatusNotFound, Code: CodeRedis, Message: RedisNotFoundMessage}
	}
	return &Error{Err: err, Status: http.StatusBadGateway, Code: CodeRedis, Message: RedisErrorMessage}
}
