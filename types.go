package cybersourceauth

import (
	"github.com/OpsMx/cybersource-auth-client/pkg/signature"
	"github.com/OpsMx/cybersource-auth-client/pkg/types"
)

// HeaderSet is the set of authentication headers an API call must carry
type HeaderSet = signature.HeaderSet

// Claims is the decoded claim set of a verified token
type Claims = types.Claims

// ClientError represents an error from the signing or verification pipelines
type ClientError = types.ClientError

// Common error codes
const (
	ErrCodeInvalidInput       = types.ErrCodeInvalidInput
	ErrCodeMalformedToken     = types.ErrCodeMalformedToken
	ErrCodeMissingKeyID       = types.ErrCodeMissingKeyID
	ErrCodeKeyFetch           = types.ErrCodeKeyFetch
	ErrCodeInvalidToken       = types.ErrCodeInvalidToken
	ErrCodeConfigurationError = types.ErrCodeConfigurationError
	ErrCodeHTTPError          = types.ErrCodeHTTPError
)

// Key fetch failure variants
const (
	FetchNetwork   = types.FetchNetwork
	FetchTimeout   = types.FetchTimeout
	FetchBadStatus = types.FetchBadStatus
	FetchBadBody   = types.FetchBadBody
)

// IsClientError checks if an error is a ClientError
func IsClientError(err error) bool {
	return types.IsClientError(err)
}

// GetClientError returns the ClientError if the error is a ClientError
func GetClientError(err error) *ClientError {
	return types.GetClientError(err)
}
