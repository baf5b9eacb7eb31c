package eapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies a failed operation.
type ErrorType string

const (
	InvalidParameter    ErrorType = "invalid_parameter"     // Caller input rejected before any network call.
	TransportFailure    ErrorType = "transport_failure"     // No response, wrong status code or network fault.
	SignatureInvalid    ErrorType = "signature_invalid"     // Response or extension failed verification.
	RemoteBusinessError ErrorType = "remote_business_error" // Verified response in which the gateway refused the operation.
	InternalError       ErrorType = "internal_error"        // Anything unexpected.
)

// ErrorCode is a machine-readable identifier for the specific failure.
type ErrorCode string

const (
	MissingParameter   ErrorCode = "missing_parameter"
	MalformedParameter ErrorCode = "malformed_parameter"
	UnsupportedVersion ErrorCode = "unsupported_version" // Message or field not defined in the configured version.
	UnexpectedStatus   ErrorCode = "unexpected_status"
	NetworkFailure     ErrorCode = "network"
	Timeout            ErrorCode = "timeout"
	Canceled           ErrorCode = "canceled"
	MalformedResponse  ErrorCode = "malformed_response"
	MissingSignature   ErrorCode = "missing_signature"
	SignatureMismatch  ErrorCode = "signature_mismatch"
	UnknownExtension   ErrorCode = "unknown_extension"
	StaleTimestamp     ErrorCode = "stale_timestamp"
	PaymentNotFound    ErrorCode = "payment_not_found" // Payment unknown to the gateway or expired.
	GatewayRejected    ErrorCode = "gateway_rejected"
	Unexpected         ErrorCode = "unexpected"
)

// Error is the single failure type returned by [Client] operations.
type Error struct {
	Type      ErrorType `json:"type"`
	Code      ErrorCode `json:"code"`
	Operation Operation `json:"operation,omitempty"`
	Message   string    `json:"message"`
	Param     *string   `json:"param,omitempty"`
	// HTTP status observed, zero when no response arrived.
	Status int `json:"status,omitempty"`
	// Gateway resultCode for remote business errors.
	ResultCode *int `json:"resultCode,omitempty"`

	err error `json:"-"`
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Operation != "" {
		msg = fmt.Sprintf("%s: %s", e.Operation, msg)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return "eapi: " + msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Retryable reports whether repeating the call may succeed. The client never
// retries on its own since payment operations are not generically
// idempotent; this is input for a caller policy.
func (e *Error) Retryable() bool {
	if e == nil || e.Type != TransportFailure {
		return false
	}
	switch e.Code {
	case NetworkFailure, Timeout:
		return true
	case UnexpectedStatus:
		switch e.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

type errorOption func(*Error)

// WithOffendingParam names the request field that triggered the error.
func WithOffendingParam(name string) errorOption {
	return func(er *Error) {
		er.Param = &name
	}
}

// WithHTTPStatus records the HTTP status that was observed.
func WithHTTPStatus(status int) errorOption {
	return func(er *Error) {
		er.Status = status
	}
}

// WithCause attaches the underlying error.
func WithCause(err error) errorOption {
	return func(er *Error) {
		er.err = err
	}
}

// WithResultCode records the gateway resultCode.
func WithResultCode(code int) errorOption {
	return func(er *Error) {
		er.ResultCode = &code
	}
}

// NewInvalidParameterError builds an error for rejected caller input.
func NewInvalidParameterError(op Operation, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(InvalidParameter, code, op, message, opts...)
}

// NewTransportError builds an error for a missing or unexpected response.
func NewTransportError(op Operation, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(TransportFailure, code, op, message, opts...)
}

// NewSignatureError builds an error for a response that failed verification.
func NewSignatureError(op Operation, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(SignatureInvalid, code, op, message, opts...)
}

// NewBusinessError builds an error for a gateway refusal.
func NewBusinessError(op Operation, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(RemoteBusinessError, code, op, message, opts...)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(op Operation, message string, cause error, opts ...errorOption) *Error {
	return newError(InternalError, Unexpected, op, message, append([]errorOption{WithCause(cause)}, opts...)...)
}

func newError(typ ErrorType, code ErrorCode, op Operation, message string, opts ...errorOption) *Error {
	errPayload := &Error{
		Type:      typ,
		Code:      code,
		Operation: op,
		Message:   message,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(errPayload)
	}
	return errPayload
}

// TypeOf returns the [ErrorType] of err, or "" when err is not an [*Error].
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// ResultError converts a verified response with a non-zero resultCode into a
// [RemoteBusinessError]. It returns nil when the gateway accepted the call.
func ResultError(op Operation, res Result) error {
	code, message := res.Result()
	if code == ResultOK {
		return nil
	}
	errCode := GatewayRejected
	if code == ResultPaymentNotFound {
		errCode = PaymentNotFound
	}
	return NewBusinessError(op, errCode, fmt.Sprintf("gateway returned resultCode %d: %s", code, message), WithResultCode(code))
}
