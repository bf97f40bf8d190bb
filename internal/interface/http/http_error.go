package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yanqian/sunspot/pkg/errors"
)

// HTTPError captures the metadata required to serialize an error response consistently.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying error.
func (e *HTTPError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewHTTPError is a helper to build an HTTPError instance.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

// fromDomainError maps AppError codes onto HTTP statuses.
func fromDomainError(err error) *HTTPError {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.CodeComputation:
		status = http.StatusUnprocessableEntity
	case apperrors.CodeProviderUnavailable:
		status = http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewHTTPError(statusClientClosedRequest, "request_cancelled", "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewHTTPError(http.StatusGatewayTimeout, "timeout", "request timed out", err)
	}
	if code == "" || status == http.StatusInternalServerError {
		return NewHTTPError(http.StatusInternalServerError, "internal_error", "something went wrong", err)
	}
	return NewHTTPError(status, code, errMessage(err), err)
}

// statusClientClosedRequest is the de facto status for a client that went away.
const statusClientClosedRequest = 499

func asHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "something went wrong",
		Err:     err,
	}
}

func abortWithError(c *gin.Context, err *HTTPError) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}
