// Package types defines shared types used across the CyberSource authentication client
package types

// JWTHeader represents the decoded first segment of a compact JWT
type JWTHeader struct {
	Alg string `json:"alg"`           // Signing algorithm, RS256 for processor tokens
	Kid string `json:"kid"`           // Key identifier of the issuer key
	Typ string `json:"typ,omitempty"` // Token type
}

// PublicKeyResponse represents the body returned by the public key endpoint.
// Both fields are base64 encoded big-endian unsigned integers.
type PublicKeyResponse struct {
	N string `json:"n"` // RSA modulus
	E string `json:"e"` // RSA public exponent
}

// Claims is the decoded claim set of a verified token. It is returned to the
// caller unchanged; no claim-level business checks are applied to it.
type Claims map[string]any
