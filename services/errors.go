package services

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUnauthorized
	KindBadRequest
	KindPayloadTooLarge
	KindTooManyRequests
	KindUpstreamUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindTooManyRequests:
		return "rate_limited"
	case KindUpstreamUnavailable:
		return "upstream_error"
	default:
		return "internal_error"
	}
}

func (k ErrorKind) StatusCode() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AnalysisError is what Analyze returns for every rejected or failed request.
// Message is safe to show to the caller; Err keeps the cause for logs.
type AnalysisError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func (e *AnalysisError) StatusCode() int {
	return e.Kind.StatusCode()
}

func newAnalysisError(kind ErrorKind, msg string, err error) *AnalysisError {
	return &AnalysisError{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of an *AnalysisError anywhere in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// UpstreamError is a failed or unusable response from the classification model.
// StatusCode is zero when no HTTP response was received.
type UpstreamError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := "model api: " + e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
