package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error types
var (
	ErrKeyInvalid             = errors.New("key invalid")
	ErrTransport              = errors.New("transport error")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrInvalidAppleSignature  = errors.New("invalid apple signature")
	ErrInvalidGoogleSignature = errors.New("invalid google signature")
	ErrInvalidJWS             = errors.New("invalid jws")
	ErrInvalidResponse        = errors.New("invalid response")
	ErrParse                  = errors.New("parse error")
	ErrNotActive              = errors.New("purchase not active")
	ErrInternal               = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeKeyInvalid       ErrorType = "key_invalid"
	ErrorTypeTransport        ErrorType = "transport"
	ErrorTypeInvalidSignature ErrorType = "invalid_signature"
	ErrorTypeInvalidJWS       ErrorType = "invalid_jws"
	ErrorTypeInvalidResponse  ErrorType = "invalid_response"
	ErrorTypeParse            ErrorType = "parse"
	ErrorTypeNotActive        ErrorType = "not_active"
	ErrorTypeInternal         ErrorType = "internal"
)

// Vendor names the store an error originated from.
type Vendor string

const (
	VendorApple  Vendor = "apple"
	VendorGoogle Vendor = "google"
)

// IAPError is the structured error returned by every verification, parsing
// and vendor operation.
//
// Debug carries vendor detail (raw response bodies, parser messages) that must
// only reach trusted channels. Error() never includes it.
type IAPError struct {
	Type       ErrorType
	Vendor     Vendor
	Op         string // e.g. "get_transaction_info", "verify_jws"
	Msg        string
	Debug      string
	Err        error
	StatusCode int
	Retryable  bool

	// Details is set on NotActive errors so callers can still inspect the
	// normalized purchase.
	Details any
}

func (e *IAPError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Type)
	}
	switch {
	case e.Vendor != "" && e.Op != "":
		return fmt.Sprintf("%s %s: %s", e.Vendor, e.Op, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

// DebugString includes the vendor debug text and the wrapped error.
func (e *IAPError) DebugString() string {
	s := e.Error()
	if e.Debug != "" {
		s += " [" + e.Debug + "]"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *IAPError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *IAPError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrKeyInvalid:
		return e.Type == ErrorTypeKeyInvalid
	case ErrTransport:
		return e.Type == ErrorTypeTransport
	case ErrInvalidSignature:
		return e.Type == ErrorTypeInvalidSignature
	case ErrInvalidAppleSignature:
		return e.Type == ErrorTypeInvalidSignature && e.Vendor == VendorApple
	case ErrInvalidGoogleSignature:
		return e.Type == ErrorTypeInvalidSignature && e.Vendor == VendorGoogle
	case ErrInvalidJWS:
		return e.Type == ErrorTypeInvalidJWS
	case ErrInvalidResponse:
		return e.Type == ErrorTypeInvalidResponse
	case ErrParse:
		return e.Type == ErrorTypeParse
	case ErrNotActive:
		return e.Type == ErrorTypeNotActive
	case ErrInternal:
		return e.Type == ErrorTypeInternal
	}

	return errors.Is(e.Err, target)
}

// New creates an IAPError without a wrapped cause.
func New(errorType ErrorType, vendor Vendor, op, msg string) *IAPError {
	return &IAPError{
		Type:      errorType,
		Vendor:    vendor,
		Op:        op,
		Msg:       msg,
		Retryable: errorType == ErrorTypeTransport,
	}
}

// Wrap creates an IAPError around err.
func Wrap(errorType ErrorType, vendor Vendor, op, msg string, err error) *IAPError {
	e := New(errorType, vendor, op, msg)
	e.Err = err
	return e
}

// WithDebug attaches vendor detail for trusted channels.
func (e *IAPError) WithDebug(debug string) *IAPError {
	e.Debug = debug
	return e
}

// WithStatusCode adds HTTP status code to the error
func (e *IAPError) WithStatusCode(code int) *IAPError {
	e.StatusCode = code
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// Helper functions

func KeyInvalid(vendor Vendor, op string, err error) error {
	return Wrap(ErrorTypeKeyInvalid, vendor, op, "invalid credentials", err)
}

func Transport(vendor Vendor, op, msg string, err error) *IAPError {
	return Wrap(ErrorTypeTransport, vendor, op, msg, err)
}

func InvalidSignature(vendor Vendor, op, msg string, err error) error {
	return Wrap(ErrorTypeInvalidSignature, vendor, op, msg, err)
}

func InvalidJWS(vendor Vendor, op, msg string, err error) error {
	return Wrap(ErrorTypeInvalidJWS, vendor, op, msg, err)
}

func InvalidResponse(vendor Vendor, op, msg string) error {
	return New(ErrorTypeInvalidResponse, vendor, op, msg)
}

func Parse(vendor Vendor, op, msg string, err error) error {
	return Wrap(ErrorTypeParse, vendor, op, msg, err)
}

func Internal(op, msg string) error {
	return New(ErrorTypeInternal, "", op, msg)
}

// NotActive reports a verified purchase that grants no entitlement.
func NotActive(vendor Vendor, details any) error {
	e := New(ErrorTypeNotActive, vendor, "verify", "purchase is not active")
	e.Details = details
	return e
}

// TypeOf returns the ErrorType of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var iapErr *IAPError
	if errors.As(err, &iapErr) {
		return iapErr.Type
	}
	return ErrorTypeInternal
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var iapErr *IAPError
	if errors.As(err, &iapErr) {
		return iapErr.Retryable
	}
	return false
}

// DebugString returns the trusted-channel description of err.
func DebugString(err error) string {
	var iapErr *IAPError
	if errors.As(err, &iapErr) {
		return iapErr.DebugString()
	}
	return err.Error()
}
