package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/uniedit/mediaflow/internal/module/media/provider"
)

// genericUserMessage is shown when no provider message is available.
const genericUserMessage = "media generation failed, please try again later"

// ProviderUnsupportedError is the capability-absent signal. It triggers a
// single fallback hop and reaches callers only when the fallback also
// reports it.
type ProviderUnsupportedError struct {
	Provider   provider.ID
	Capability provider.Capability
	// Message is the upstream message of a 501 reply, if any.
	Message string
}

func (e *ProviderUnsupportedError) Error() string {
	return fmt.Sprintf("provider %s does not support %s generation", e.Provider, e.Capability)
}

// UserMessage implements userMessager.
func (e *ProviderUnsupportedError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s generation is not available from %s", e.Capability, e.Provider)
}

// ProviderRequestError is any other non-success provider response. Message
// carries the upstream message. StatusCode is 0 for transport failures.
type ProviderRequestError struct {
	Provider   provider.ID
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderRequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderRequestError) Unwrap() error { return e.Err }

// UserMessage implements userMessager.
func (e *ProviderRequestError) UserMessage() string {
	return e.Message
}

// Transient reports whether a later retry of the same request could succeed.
func (e *ProviderRequestError) Transient() bool {
	if errors.Is(e.Err, provider.ErrProviderUnavailable) {
		return true
	}
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// JobFailedError is returned when the remote job reports a terminal failure.
type JobFailedError struct {
	Provider provider.ID
	JobID    string
	Message  string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s on %s failed: %s", e.JobID, e.Provider, e.Message)
}

// UserMessage implements userMessager.
func (e *JobFailedError) UserMessage() string {
	return e.Message
}

// PollingTimeoutError is returned when the attempt limit runs out before a
// terminal state. The remote job is not cancelled.
type PollingTimeoutError struct {
	Provider     provider.ID
	JobID        string
	Attempts     int
	StillRunning bool
}

func (e *PollingTimeoutError) Error() string {
	msg := fmt.Sprintf("job %s on %s did not finish after %d polls", e.JobID, e.Provider, e.Attempts)
	if e.StillRunning {
		msg += "; it may still be processing remotely"
	}
	return msg
}

// UserMessage implements userMessager.
func (e *PollingTimeoutError) UserMessage() string {
	if e.StillRunning {
		return "generation timed out; the job may still be processing remotely"
	}
	return "generation timed out"
}

type userMessager interface {
	UserMessage() string
}

// UserMessage returns the innermost human-readable message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var um userMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	var unknown *provider.UnknownProviderError
	if errors.As(err, &unknown) {
		return unknown.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "generation was cancelled"
	}
	return genericUserMessage
}

// BreakerSuccess classifies call outcomes for the provider circuit breaker.
// Capability-absent answers, client errors and caller cancellation do not
// say anything about provider health.
func BreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var unsupported *ProviderUnsupportedError
	if errors.As(err, &unsupported) {
		return true
	}
	var reqErr *ProviderRequestError
	if errors.As(err, &reqErr) {
		return !reqErr.Transient()
	}
	return false
}
