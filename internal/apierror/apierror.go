package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"waqf-reconciliation-backend/internal/lock"
	"waqf-reconciliation-backend/internal/services/distribution"
	"waqf-reconciliation-backend/internal/services/reconciliation"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrUnbalanced     ErrorCode = "UNBALANCED"
	ErrLocked         ErrorCode = "LOCKED"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details any) APIError {
	return APIError{Code: code, Message: message, Details: details}
}

// FromError translates a domain error into an APIError.
func FromError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var conflict *reconciliation.ConflictError
	var unbalanced *reconciliation.UnbalancedError
	switch {
	case errors.As(err, &conflict):
		return NewAPIError(ErrConflict, err.Error(), fields{"side": conflict.Side, "id": conflict.ID})
	case errors.As(err, &unbalanced):
		return NewAPIError(ErrUnbalanced, err.Error(), fields{
			"difference_minor": unbalanced.DifferenceMinor,
			"unresolved":       unbalanced.Unresolved,
		})
	case errors.Is(err, reconciliation.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return NewAPIError(ErrNotFound, err.Error(), nil)
	case errors.Is(err, reconciliation.ErrSessionClosed),
		errors.Is(err, reconciliation.ErrNotMatched),
		errors.Is(err, reconciliation.ErrStatementImported),
		errors.Is(err, distribution.ErrJobRunning),
		errors.Is(err, distribution.ErrNothingToRetry),
		errors.Is(err, distribution.ErrInvalidTransition):
		return NewAPIError(ErrConflict, err.Error(), nil)
	case errors.Is(err, lock.ErrLockHeld):
		return NewAPIError(ErrLocked, "resource is busy, try again", nil)
	case errors.Is(err, reconciliation.ErrInvalidKind),
		errors.Is(err, distribution.ErrInvalidBatchSize),
		errors.Is(err, distribution.ErrNoRecipients):
		return NewAPIError(ErrInvalidInput, err.Error(), nil)
	}

	logrus.WithError(err).Error("unhandled error")
	return NewAPIError(ErrInternalServer, "internal server error", nil)
}

type fields = map[string]any

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrUnbalanced:
		return http.StatusUnprocessableEntity
	case ErrLocked:
		return http.StatusLocked
	case ErrBadRequest, ErrInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
