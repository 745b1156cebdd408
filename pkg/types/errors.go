package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes carried by ClientError. Callers branch on these instead of
// parsing messages.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeMalformedToken     = "MALFORMED_TOKEN"
	ErrCodeMissingKeyID       = "MISSING_KEY_ID"
	ErrCodeKeyFetch           = "KEY_FETCH_ERROR"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeConfigurationError = "CONFIGURATION_ERROR"
	ErrCodeHTTPError          = "HTTP_ERROR"
)

// FetchFailure identifies why retrieving an issuer public key failed. It is
// only set on errors with code ErrCodeKeyFetch.
type FetchFailure string

// Key fetch failure variants
const (
	FetchNetwork   FetchFailure = "NETWORK"
	FetchTimeout   FetchFailure = "TIMEOUT"
	FetchBadStatus FetchFailure = "BAD_STATUS"
	FetchBadBody   FetchFailure = "BAD_BODY"
)

// Stage names the step of a pipeline at which an error was raised
type Stage string

// Pipeline stages
const (
	StageSign            Stage = "sign"
	StageEmptyToken      Stage = "empty_token"
	StageStructure       Stage = "structure"
	StageHeaderDecode    Stage = "header_decode"
	StageKeyFetch        Stage = "key_fetch"
	StageSignatureVerify Stage = "signature_verify"
	StageConfiguration   Stage = "configuration"
	StageRequest         Stage = "request"
)

// ClientError represents a failure raised by the signing or verification
// pipelines. The underlying cause, if any, is kept for diagnostics and is
// reachable through errors.Unwrap.
type ClientError struct {
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Stage      Stage        `json:"stage,omitempty"`
	Fetch      FetchFailure `json:"fetch,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
	Err        error        `json:"-"`
}

// Error implements the error interface
func (e *ClientError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Fetch != "" {
		b.WriteString("/")
		b.WriteString(string(e.Fetch))
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ClientError with the same code and, when
// the target specifies one, the same fetch failure variant.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Fetch == "" || t.Fetch == e.Fetch
}

// NewClientError creates a new client error raised at the given stage
func NewClientError(code string, stage Stage, message string) *ClientError {
	return &ClientError{
		Code:    code,
		Stage:   stage,
		Message: message,
	}
}

// WrapClientError creates a new client error that keeps err as its cause
func WrapClientError(code string, stage Stage, message string, err error) *ClientError {
	return &ClientError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}

// NewKeyFetchError creates a key fetch error of the given variant
func NewKeyFetchError(fetch FetchFailure, message string, err error) *ClientError {
	return &ClientError{
		Code:    ErrCodeKeyFetch,
		Stage:   StageKeyFetch,
		Fetch:   fetch,
		Message: message,
		Err:     err,
	}
}

// InvalidInput is shorthand for the caller misuse error
func InvalidInput(stage Stage, format string, args ...any) *ClientError {
	return NewClientError(ErrCodeInvalidInput, stage, fmt.Sprintf(format, args...))
}

// IsClientError checks if an error is, or wraps, a ClientError
func IsClientError(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr)
}

// GetClientError returns the ClientError if the error is, or wraps, a ClientError
func GetClientError(err error) *ClientError {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}
	return nil
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code string) bool {
	clientErr := GetClientError(err)
	return clientErr != nil && clientErr.Code == code
}

// IsFetchFailure reports whether err is a key fetch error of the given variant
func IsFetchFailure(err error, fetch FetchFailure) bool {
	clientErr := GetClientError(err)
	return clientErr != nil && clientErr.Code == ErrCodeKeyFetch && clientErr.Fetch == fetch
}
