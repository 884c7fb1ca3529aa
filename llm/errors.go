package llm

import (
	"errors"
	"fmt"
)

// SDKError is the base error type for the client.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error { return e.Cause }

// ProviderError is an error reported by a provider backend.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

type AuthenticationError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to a typed provider error.
func ErrorFromStatusCode(statusCode int, message, provider string, cause error) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message, Cause: cause},
		Provider:   provider,
		StatusCode: statusCode,
	}
	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401, 403:
		return &AuthenticationError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Retryable = statusCode >= 500
		return &pe
	}
}

// IsRetryable reports whether err is a transient provider failure worth
// another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		rl  *RateLimitError
		se  *ServerError
		rt  *RequestTimeoutError
		pe  *ProviderError
		ae  *AuthenticationError
		ir  *InvalidRequestError
		nf  *NotFoundError
		cl  *ContextLengthError
		ce  *ConfigurationError
		abe *AbortError
	)
	switch {
	case errors.As(err, &rl), errors.As(err, &se), errors.As(err, &rt):
		return true
	case errors.As(err, &ae), errors.As(err, &ir), errors.As(err, &nf),
		errors.As(err, &cl), errors.As(err, &ce), errors.As(err, &abe):
		return false
	case errors.As(err, &pe):
		return pe.Retryable
	default:
		return false
	}
}
