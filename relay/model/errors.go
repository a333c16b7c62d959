package model

import (
	"net/http"

	"github.com/Laisky/errors/v2"
)

// ErrorKind classifies gateway failures for the error-mapping middleware.
type ErrorKind int

const (
	// KindInvalidRequest covers not-found paths, unsupported providers or
	// endpoints, malformed bodies and invalid cache headers.
	KindInvalidRequest ErrorKind = iota
	// KindAuthFailure covers missing/invalid credentials and scope misses.
	KindAuthFailure
	// KindRateLimited is an admission rejection; carries RetryAfterSeconds.
	KindRateLimited
	// KindUpstreamError is transport failure, provider 5xx or broken stream.
	// Counted toward endpoint health.
	KindUpstreamError
	// KindUpstreamClientError is a provider 4xx forwarded verbatim.
	KindUpstreamClientError
	// KindMapper is a dialect-conversion or model-mapping failure.
	KindMapper
	// KindInternal is a missing extension or invariant violation. Detail is
	// never surfaced to clients.
	KindInternal
)

// GatewayError is the structured error every pipeline component returns.
// The global error-mapping middleware translates it to HTTP.
type GatewayError struct {
	Kind    ErrorKind
	Message string
	// Status overrides the kind's default HTTP status when non-zero
	// (upstream-client errors keep the provider's status).
	Status int
	// RetryAfterSeconds is set for KindRateLimited.
	RetryAfterSeconds int
	Cause             error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// HTTPStatus resolves the response status for this error.
func (e *GatewayError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthFailure:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindUpstreamClientError:
		return http.StatusBadRequest
	case KindMapper:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorType is the "type" field emitted in JSON error bodies.
func (e *GatewayError) ErrorType() string {
	switch e.Kind {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindAuthFailure:
		return "authentication_error"
	case KindRateLimited:
		return "rate_limit_error"
	case KindUpstreamError, KindUpstreamClientError:
		return "upstream_error"
	case KindMapper:
		return "mapper_error"
	default:
		return "internal_error"
	}
}

func NewInvalidRequest(msg string) *GatewayError {
	return &GatewayError{Kind: KindInvalidRequest, Message: msg}
}

func NewNotFound(path string) *GatewayError {
	return &GatewayError{Kind: KindInvalidRequest, Status: http.StatusNotFound, Message: "not found: " + path}
}

func NewAuthFailure(msg string) *GatewayError {
	return &GatewayError{Kind: KindAuthFailure, Message: msg}
}

func NewRateLimited(retryAfterSeconds int) *GatewayError {
	return &GatewayError{
		Kind:              KindRateLimited,
		Message:           "rate limit exceeded",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

func NewUpstreamError(cause error) *GatewayError {
	return &GatewayError{Kind: KindUpstreamError, Message: "upstream request failed", Cause: cause}
}

func NewMapperError(msg string, cause error) *GatewayError {
	return &GatewayError{Kind: KindMapper, Message: msg, Cause: cause}
}

// NewMapperInputError is a mapper failure clearly caused by client input,
// surfaced as 400 instead of 500.
func NewMapperInputError(msg string, cause error) *GatewayError {
	return &GatewayError{Kind: KindMapper, Status: http.StatusBadRequest, Message: msg, Cause: cause}
}

func NewInternal(msg string, cause error) *GatewayError {
	return &GatewayError{Kind: KindInternal, Message: msg, Cause: cause}
}

// ErrExtensionNotFound marks a missing request extension; always internal.
var ErrExtensionNotFound = errors.New("request extension not found")
