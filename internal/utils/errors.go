package utils

import "fmt"

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

// Standard error codes for the application
const (
	// Request-shaped errors
	ErrValidation = "VALIDATION_ERROR"
	ErrNotFound   = "NOT_FOUND"
	ErrForbidden  = "FORBIDDEN"
	ErrConflict   = "CONFLICT"

	// Authentication errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrInvalidToken = "INVALID_TOKEN"

	// Infrastructure errors
	ErrTransport          = "TRANSPORT_ERROR"
	ErrDatabase           = "DATABASE_ERROR"
	ErrActorTimeout       = "ACTOR_TIMEOUT"
	ErrAggregateInvariant = "AGGREGATE_INVARIANT_VIOLATION"
)

func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewNotFoundError(what string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: what + " not found",
	}
}

func NewValidationError(reason string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: reason,
	}
}

func NewForbiddenError(reason string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: reason,
	}
}

func NewActorTimeoutError(actorName string) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
	}
}

// IsErrorCode checks whether err is an AppError carrying the given code.
func IsErrorCode(err error, code string) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// PublicCode maps internal-only codes to a generic one before an error
// crosses the API boundary. Invariant violations are a bug signal for
// operators, never for end users.
func PublicCode(code string) string {
	switch code {
	case ErrAggregateInvariant, ErrDatabase, ErrActorTimeout:
		return "INTERNAL_ERROR"
	default:
		return code
	}
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound:
		return 404 // http.StatusNotFound
	case ErrValidation:
		return 400 // http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken:
		return 401 // http.StatusUnauthorized
	case ErrForbidden:
		return 403 // http.StatusForbidden
	case ErrConflict:
		return 409 // http.StatusConflict
	case ErrTransport:
		return 502 // http.StatusBadGateway
	default:
		return 500 // http.StatusInternalServerError for unknown errors
	}
}

// WrapStorageError translates a storage-layer error into the taxonomy.
// Ledger and aggregate code never lets driver errors escape unwrapped.
func WrapStorageError(err error, context string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewAppError(ErrDatabase, fmt.Sprintf("storage failure during %s", context), err)
}
