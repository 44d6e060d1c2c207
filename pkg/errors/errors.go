package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")

	// ErrCapacityExceeded is returned when a generation has handed out all of
	// its slots. The generation is left untouched.
	ErrCapacityExceeded = errors.New("generation capacity exceeded")
	// ErrInvalidStateTransition signals a mark/clear-to-mark coordination bug.
	ErrInvalidStateTransition = errors.New("invalid index state transition")
	ErrMalformedCodecState    = errors.New("malformed codec state")
	ErrInterrupted            = errors.New("query interrupted")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrCapacityExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrInterrupted):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
