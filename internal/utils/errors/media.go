package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/uniedit/mediaflow/internal/module/media/generation"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/module/media/relocation"
)

// Error codes for generation failures.
const (
	CodeUnknownProvider     = "UNKNOWN_PROVIDER"
	CodeUnsupported         = "CAPABILITY_UNSUPPORTED"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeJobFailed           = "GENERATION_FAILED"
	CodePollingTimeout      = "GENERATION_TIMEOUT"
	CodeStorageFailed       = "STORAGE_FAILED"
	CodeCancelled           = "CANCELLED"
)

// FromMediaError maps a generation pipeline error to an AppError whose
// message is safe to show to end users. Errors that are already AppErrors
// are returned unchanged.
func FromMediaError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var (
		unknown     *provider.UnknownProviderError
		unsupported *generation.ProviderUnsupportedError
		reqErr      *generation.ProviderRequestError
		failed      *generation.JobFailedError
		timeout     *generation.PollingTimeoutError
		upload      *relocation.UploadError
		invalid     validator.ValidationErrors
	)

	switch {
	case errors.As(err, &invalid):
		e := ValidationError(err.Error())
		e.Err = err
		return e
	case errors.As(err, &unknown):
		e := BadRequest(unknown.Error())
		e.Code = CodeUnknownProvider
		e.Err = err
		return e
	case errors.As(err, &unsupported):
		return NewAppError(CodeUnsupported, generation.UserMessage(err), http.StatusUnprocessableEntity, err)
	case errors.As(err, &timeout):
		e := Timeout(generation.UserMessage(err))
		e.Code = CodePollingTimeout
		e.Err = err
		return e.WithDetails(map[string]any{
			"job_id":        timeout.JobID,
			"attempts":      timeout.Attempts,
			"still_running": timeout.StillRunning,
		})
	case errors.As(err, &failed):
		return NewAppError(CodeJobFailed, generation.UserMessage(err), http.StatusBadGateway, err).
			WithDetails(map[string]any{"job_id": failed.JobID})
	case errors.Is(err, provider.ErrProviderUnavailable):
		return NewAppError(CodeProviderUnavailable, generation.UserMessage(err), http.StatusServiceUnavailable, err)
	case errors.As(err, &reqErr):
		return NewAppError(CodeProviderError, generation.UserMessage(err), http.StatusBadGateway, err)
	case errors.As(err, &upload):
		return NewAppError(CodeStorageFailed, generation.UserMessage(err), http.StatusBadGateway, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewAppError(CodeCancelled, generation.UserMessage(err), http.StatusRequestTimeout, err)
	default:
		return Internal(generation.UserMessage(err), err)
	}
}

// ClassifyTask adapts FromMediaError to the task manager's error classifier.
func ClassifyTask(err error) (code, message string) {
	appErr := FromMediaError(err)
	return appErr.Code, appErr.Message
}
