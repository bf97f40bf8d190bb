package errors

import "errors"

// Error codes shared by the domain services and the HTTP layer.
const (
	// CodeInvalidInput rejects a request before any computation happens.
	CodeInvalidInput = "invalid_input"
	// CodeDataUnavailable marks missing heights or weather; callers fall back instead of failing.
	CodeDataUnavailable = "data_unavailable"
	// CodeComputation marks malformed geometry met mid-computation.
	CodeComputation = "computation_error"
	// CodeProviderUnavailable is returned once every weather fallback is exhausted.
	CodeProviderUnavailable = "provider_unavailable"
	// CodeStorage wraps repository and cache failures.
	CodeStorage = "storage_error"
)

// AppError encodes domain specific error details.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap produces a new AppError instance.
func Wrap(code, message string, err error) error {
	if err == nil {
		return &AppError{Code: code, Message: message}
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// IsCode helps handler differentiate failures.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the outermost AppError code, or an empty string.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
