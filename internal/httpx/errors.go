package httpx

import (
	"fmt"
	"net/http"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"
)

// Business error codes
const (
	// Success
	CodeSuccess = 0

	// Authentication errors (1000-1099)
	CodeUnauthorized = 1001 // Token missing
	CodeInvalidToken = 1002 // Token invalid or expired
	CodeForbidden    = 1004 // No permission

	// Parameter errors (2000-2099)
	CodeParamMissing = 2001
	CodeParamInvalid = 2002

	// Resource/Business errors (3000-3999)
	CodeNotFound      = 3001
	CodeStateConflict = 3003 // Current state does not allow operation

	// Certificate lifecycle errors (4000-4099)
	CodeIssuanceConfig    = 4001 // Misconfiguration, operator action required
	CodeIssuanceTransient = 4002 // Temporary failure, retried automatically
	CodeIssuanceQuota     = 4003 // Authority rate limit
	CodeIssuanceRejected  = 4004 // Authority rejected the validation
	CodeStoreIntegrity    = 4005 // Stored material failed verification

	// System errors (5000-5999)
	CodeInternalError = 5001
	CodeDatabaseError = 5002
)

// AppError represents an application error with HTTP status and business code
type AppError struct {
	HTTPStatus int         // HTTP status code
	Code       int         // Business error code
	Message    string      // User-facing error message
	Err        error       // Internal error (for logging only, not returned to client)
	Data       interface{} // Additional data
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code=%d, message=%s, err=%v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// NewAppError creates a new AppError
func NewAppError(httpStatus, code int, message string, err error) *AppError {
	return &AppError{
		HTTPStatus: httpStatus,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}

// ErrUnauthorized creates a 401 unauthorized error
func ErrUnauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return NewAppError(http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

// ErrInvalidToken creates a 401 invalid token error
func ErrInvalidToken(message string) *AppError {
	if message == "" {
		message = "invalid token"
	}
	return NewAppError(http.StatusUnauthorized, CodeInvalidToken, message, nil)
}

// ErrParamMissing creates a 400 parameter missing error
func ErrParamMissing(message string) *AppError {
	if message == "" {
		message = "parameter missing"
	}
	return NewAppError(http.StatusBadRequest, CodeParamMissing, message, nil)
}

// ErrParamInvalid creates a 400 parameter invalid error
func ErrParamInvalid(message string) *AppError {
	if message == "" {
		message = "parameter format error"
	}
	return NewAppError(http.StatusBadRequest, CodeParamInvalid, message, nil)
}

// ErrNotFound creates a 404 not found error
func ErrNotFound(message string) *AppError {
	if message == "" {
		message = "resource not found"
	}
	return NewAppError(http.StatusNotFound, CodeNotFound, message, nil)
}

// ErrStateConflict creates a 409 state conflict error
func ErrStateConflict(message string) *AppError {
	if message == "" {
		message = "current state does not allow operation"
	}
	return NewAppError(http.StatusConflict, CodeStateConflict, message, nil)
}

// ErrInternalError creates a 500 internal error
func ErrInternalError(message string, err error) *AppError {
	if message == "" {
		message = "internal error"
	}
	return NewAppError(http.StatusInternalServerError, CodeInternalError, message, err)
}

// ErrDatabaseError creates a 500 database error
func ErrDatabaseError(message string, err error) *AppError {
	if message == "" {
		message = "database error"
	}
	return NewAppError(http.StatusInternalServerError, CodeDatabaseError, message, err)
}

// FromCertErr maps a certificate lifecycle error to an API error. The
// classification decides both the business code and the HTTP status the
// caller sees.
func FromCertErr(err error) *AppError {
	switch certerr.KindOf(err) {
	case certerr.KindConfiguration:
		return NewAppError(http.StatusUnprocessableEntity, CodeIssuanceConfig,
			"issuance blocked by configuration, operator action required", err)
	case certerr.KindRateLimited:
		return NewAppError(http.StatusTooManyRequests, CodeIssuanceQuota,
			"certificate authority rate limit reached", err)
	case certerr.KindValidation:
		return NewAppError(http.StatusBadGateway, CodeIssuanceRejected,
			"certificate authority rejected the validation", err)
	case certerr.KindStoreIntegrity:
		return NewAppError(http.StatusInternalServerError, CodeStoreIntegrity,
			"stored certificate material failed verification", err)
	default:
		return NewAppError(http.StatusBadGateway, CodeIssuanceTransient,
			"temporary issuance failure, will be retried", err)
	}
}
