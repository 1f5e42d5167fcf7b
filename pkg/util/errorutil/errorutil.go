package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes surfaced in the JSON error envelope. Clients branch on these:
// TOKEN_EXPIRED is the only authorization failure that warrants a refresh
// attempt, everything else is terminal for the session.
const (
	CodeTokenMissing      = "TOKEN_MISSING"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeTokenInvalid      = "TOKEN_INVALID"
	CodeCredentialInvalid = "CREDENTIAL_INVALID"
	CodeUserExists        = "USER_EXISTS"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeInternalError     = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

// NewTokenMissing reports that no credential was supplied at all.
// 401 strictly means "no credential", 403 "credential supplied but rejected".
func NewTokenMissing(message string) error {
	return NewDomainError(CodeTokenMissing, message, http.StatusUnauthorized, nil)
}

// NewTokenExpired reports a well-formed, correctly signed token past its expiry.
func NewTokenExpired(message string) error {
	return NewDomainError(CodeTokenExpired, message, http.StatusForbidden, nil)
}

// NewTokenInvalid reports a malformed token or a bad signature.
func NewTokenInvalid(message string) error {
	return NewDomainError(CodeTokenInvalid, message, http.StatusForbidden, nil)
}

// NewCredentialInvalid reports a failed login attempt.
func NewCredentialInvalid(message string) error {
	return NewDomainError(CodeCredentialInvalid, message, http.StatusUnauthorized, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeUserExists, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternalError,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       CodeInternalError,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
