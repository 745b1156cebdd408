// Package signature builds the HTTP message signature headers required by
// the CyberSource REST API for shared secret (HMAC-SHA256) authentication.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/OpsMx/cybersource-auth-client/pkg/clock"
	"github.com/OpsMx/cybersource-auth-client/pkg/types"
)

// SignatureRequest holds everything needed to sign a single API call
type SignatureRequest struct {
	MerchantID  string
	Host        string
	Method      string // GET, POST, PUT or DELETE
	RequestPath string
	Body        []byte // Exact bytes sent on the wire; empty for GET and DELETE
	KeyID       string
	SecretKey   string // Base64 encoded shared secret
}

// Signer creates signed header sets. It holds no mutable state and may be
// used concurrently.
type Signer struct {
	clock clock.Clock
}

// NewSigner creates a Signer that stamps requests with the time reported
// by the provided clock
func NewSigner(clock clock.Clock) *Signer {
	return &Signer{
		clock: clock,
	}
}

// DefaultSigner uses the operating system clock
var DefaultSigner = NewSigner(clock.SystemClock)

// CreateHeaders signs a request using the operating system clock
func CreateHeaders(merchantID, host, httpMethod, requestPath string, body []byte, keyID, secretKey string) (HeaderSet, error) {
	return DefaultSigner.CreateHeaders(&SignatureRequest{
		MerchantID:  merchantID,
		Host:        host,
		Method:      httpMethod,
		RequestPath: requestPath,
		Body:        body,
		KeyID:       keyID,
		SecretKey:   secretKey,
	})
}

// CreateHeaders computes the Digest (POST and PUT only) and Signature of a
// request and returns the full set of headers the request must carry.
func (s *Signer) CreateHeaders(req *SignatureRequest) (HeaderSet, error) {
	method, secret, err := validate(req)
	if err != nil {
		return nil, err
	}

	// The date is part of the signed content, so it is taken once
	date := s.clock.Now().UTC().Format(http.TimeFormat)

	// Create digest, only for requests that carry a body
	var digest string
	if hasDigest(method) {
		digest = Digest(req.Body)
	}

	names := CanonicalHeaders(method)
	values := baseStringValues{
		host:       req.Host,
		date:       date,
		method:     method,
		path:       req.RequestPath,
		digest:     digest,
		merchantID: req.MerchantID,
	}
	signature := sign(secret, values.render(names))

	headers := HeaderSet{
		MerchantIDHeader:  req.MerchantID,
		DateHeader:        date,
		HostHeader:        req.Host,
		SignatureHeader:   FormatSignatureHeader(req.KeyID, names, signature),
		ContentTypeHeader: ContentTypeJSON,
	}
	if digest != "" {
		headers[DigestHeader] = digest
	}
	return headers, nil
}

// Digest returns the value of the Digest header for a request body
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return DigestPrefix + base64.StdEncoding.EncodeToString(sum[:])
}

// Sign computes the base64 encoded HMAC-SHA256 of a signature base string
// using a base64 encoded shared secret
func Sign(secretKey, baseString string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(secretKey)
	if err != nil {
		return "", types.InvalidInput(types.StageSign, "secret key is not valid base64: %v", err)
	}
	return sign(secret, baseString), nil
}

func sign(secret []byte, baseString string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// FormatSignatureHeader renders the value of the Signature header
func FormatSignatureHeader(keyID string, headerNames []string, signature string) string {
	return fmt.Sprintf(`keyid="%s", algorithm="%s", headers="%s", signature="%s"`,
		keyID, Algorithm, strings.Join(headerNames, " "), signature)
}

// validate fails fast on caller misuse, before any hashing occurs. It
// returns the normalized method and the decoded secret.
func validate(req *SignatureRequest) (string, []byte, error) {
	if req == nil {
		return "", nil, types.InvalidInput(types.StageSign, "signature request is required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"merchantId", req.MerchantID},
		{"host", req.Host},
		{"httpMethod", req.Method},
		{"requestPath", req.RequestPath},
		{"keyId", req.KeyID},
		{"secretKey", req.SecretKey},
	} {
		if field.value == "" {
			return "", nil, types.InvalidInput(types.StageSign, "%s is required", field.name)
		}
	}

	method := strings.ToUpper(req.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return "", nil, types.InvalidInput(types.StageSign, "unsupported HTTP method %q", req.Method)
	}

	secret, err := base64.StdEncoding.DecodeString(req.SecretKey)
	if err != nil {
		return "", nil, types.InvalidInput(types.StageSign, "secretKey is not valid base64: %v", err)
	}
	return method, secret, nil
}
