// Package keys retrieves the RSA public keys used by the processor to sign
// the JWTs it issues, and reconstructs them from their raw components.
package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/OpsMx/cybersource-auth-client/pkg/clock"
	"github.com/OpsMx/cybersource-auth-client/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a key fetch when the caller does not specify one
const DefaultTimeout = 5000 * time.Millisecond

// PublicKeyPath is the path, relative to the API host, under which the
// issuer publishes its keys
const PublicKeyPath = "/flex/v2/public-keys/"

// Maximum size of a key endpoint response body
const maximumResponseSize = 64 * 1024

// Resolver obtains the issuer public key for a key identifier
type Resolver interface {
	FetchPublicKey(ctx context.Context, kid, host string, timeout time.Duration) (*PublicKey, error)
}

// HTTPResolver fetches keys from the issuer's public key endpoint. Every
// call performs a fresh request; wrap it with NewCachingResolver to reuse
// keys across verifications.
type HTTPResolver struct {
	client HTTPClient
	clock  clock.Clock
	logger zerolog.Logger
}

// NewHTTPResolver creates a resolver that issues requests through client.
// A nil client selects DefaultHTTPClient.
func NewHTTPResolver(client HTTPClient, clock clock.Clock, logger zerolog.Logger) *HTTPResolver {
	if client == nil {
		client = DefaultHTTPClient
	}
	return &HTTPResolver{
		client: client,
		clock:  clock,
		logger: logger,
	}
}

// DefaultResolver uses the instrumented default HTTP client, the system
// clock and the global logger
var DefaultResolver Resolver = NewHTTPResolver(nil, clock.SystemClock, log.Logger)

// PublicKeyURL returns the location of the key with the given identifier
func PublicKeyURL(host, kid string) string {
	return "https://" + host + PublicKeyPath + url.PathEscape(kid)
}

// FetchPublicKey issues a single GET for the key identified by kid and
// reconstructs it. The request is abandoned once timeout elapses; a timeout
// of zero or less selects DefaultTimeout.
func (r *HTTPResolver) FetchPublicKey(ctx context.Context, kid, host string, timeout time.Duration) (*PublicKey, error) {
	if kid == "" {
		return nil, types.InvalidInput(types.StageKeyFetch, "kid is required")
	}
	if host == "" {
		return nil, types.InvalidInput(types.StageKeyFetch, "host is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// The deadline is released on every return path
	fetchCtx, cancel := r.clock.NewContextWithTimeout(ctx, timeout)
	defer cancel()

	fetchID := uuid.NewString()
	logger := r.logger.With().
		Str("kid", kid).
		Str("host", host).
		Str("fetch_id", fetchID).
		Logger()

	keyURL := PublicKeyURL(host, kid)
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, keyURL, nil)
	if err != nil {
		return nil, types.NewKeyFetchError(types.FetchNetwork, "failed to create key request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", fetchID)

	start := r.clock.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		fetchErr := transportError(fetchCtx, err, timeout)
		logger.Warn().Err(err).Str("fetch", string(fetchErr.Fetch)).Msg("Failed to fetch public key")
		return nil, fetchErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bounded amount so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maximumResponseSize))
		fetchErr := types.NewKeyFetchError(types.FetchBadStatus, "key endpoint returned an unexpected status", nil)
		fetchErr.StatusCode = resp.StatusCode
		logger.Warn().Int("status", resp.StatusCode).Msg("Public key endpoint returned an unexpected status")
		return nil, fetchErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maximumResponseSize))
	if err != nil {
		fetchErr := transportError(fetchCtx, err, timeout)
		logger.Warn().Err(err).Str("fetch", string(fetchErr.Fetch)).Msg("Failed to read public key response")
		return nil, fetchErr
	}

	key, err := parsePublicKeyResponse(kid, body)
	if err != nil {
		logger.Warn().Err(err).Msg("Public key response is malformed")
		return nil, err
	}

	logger.Debug().Dur("elapsed", r.clock.Now().Sub(start)).Msg("Fetched public key")
	return key, nil
}

// transportError classifies a failed request or body read
func transportError(ctx context.Context, err error, timeout time.Duration) *types.ClientError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewKeyFetchError(types.FetchTimeout, fmt.Sprintf("key request exceeded %s", timeout), err)
	}
	return types.NewKeyFetchError(types.FetchNetwork, "key request failed", err)
}

// parsePublicKeyResponse decodes a {"n": ..., "e": ...} body
func parsePublicKeyResponse(kid string, body []byte) (*PublicKey, error) {
	var response types.PublicKeyResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, types.NewKeyFetchError(types.FetchBadBody, "failed to decode key response", err)
	}
	if response.N == "" || response.E == "" {
		return nil, types.NewKeyFetchError(types.FetchBadBody, "key response is missing n or e", nil)
	}
	key, err := NewPublicKeyFromComponents(kid, response.N, response.E)
	if err != nil {
		return nil, types.NewKeyFetchError(types.FetchBadBody, "failed to reconstruct public key", err)
	}
	return key, nil
}
