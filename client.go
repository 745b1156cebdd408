// Package cybersourceauth provides request authentication for CyberSource
// REST API clients: HTTP signature headers for outgoing calls and
// verification of the JWTs issued by the processor.
package cybersourceauth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/OpsMx/cybersource-auth-client/internal/logging"
	"github.com/OpsMx/cybersource-auth-client/pkg/clock"
	"github.com/OpsMx/cybersource-auth-client/pkg/jwt"
	"github.com/OpsMx/cybersource-auth-client/pkg/keys"
	"github.com/OpsMx/cybersource-auth-client/pkg/signature"
	"github.com/OpsMx/cybersource-auth-client/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Size of the in-process public key cache
const memoryKeyCacheSize = 128

// Client signs API requests and validates processor tokens for a single
// merchant
type Client struct {
	cfg        Config
	signer     *signature.Signer
	verifier   *jwt.Verifier
	httpClient keys.HTTPClient
	redis      *redis.Client
	logger     zerolog.Logger
}

// ClientOption customizes a Client
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient keys.HTTPClient
	clock      clock.Clock
	logger     zerolog.Logger
}

// WithHTTPClient sets the transport used for API calls and key fetches
func WithHTTPClient(httpClient keys.HTTPClient) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = httpClient
	}
}

// WithClock sets the clock used for signing dates, deadlines and cache expiry
func WithClock(clock clock.Clock) ClientOption {
	return func(o *clientOptions) {
		o.clock = clock
	}
}

// WithLogger sets the logger. By default JSON lines are written to stderr
// at the level named by LOG_LEVEL.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient creates a new client from cfg
func NewClient(cfg Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := clientOptions{
		httpClient: keys.DefaultHTTPClient,
		clock:      clock.SystemClock,
		logger:     logging.New(os.Stderr),
	}
	for _, option := range options {
		option(&o)
	}

	c := &Client{
		cfg:        cfg,
		signer:     signature.NewSigner(o.clock),
		httpClient: o.httpClient,
		logger:     o.logger,
	}

	// Count real fetches, beneath any cache
	resolver := keys.NewMetricsResolver(keys.NewHTTPResolver(o.httpClient, o.clock, o.logger), "client")
	if cfg.KeyCacheTTL > 0 {
		var cache keys.Cache
		if cfg.RedisURL != "" {
			redisOptions, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, types.WrapClientError(types.ErrCodeConfigurationError, types.StageConfiguration,
					fmt.Sprintf("failed to parse %s", EnvRedisURL), err)
			}
			c.redis = redis.NewClient(redisOptions)
			cache = keys.NewRedisCache(c.redis, "")
		} else {
			cache = keys.NewMemoryCache(o.clock, memoryKeyCacheSize)
		}
		resolver = keys.NewCachingResolver(resolver, cache, cfg.KeyCacheTTL, o.clock, o.logger)
	}
	c.verifier = jwt.NewVerifier(resolver, jwt.WithLogger(o.logger))

	return c, nil
}

// NewClientFromEnv creates a new client configured from environment variables
func NewClientFromEnv(options ...ClientOption) (*Client, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, options...)
}

// Close releases the connections held by the client
func (c *Client) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// SignHeaders returns the authentication headers for a call to requestPath
func (c *Client) SignHeaders(method, requestPath string, body []byte) (signature.HeaderSet, error) {
	return c.signer.CreateHeaders(&signature.SignatureRequest{
		MerchantID:  c.cfg.MerchantID,
		Host:        c.cfg.Host,
		Method:      method,
		RequestPath: requestPath,
		Body:        body,
		KeyID:       c.cfg.KeyID,
		SecretKey:   c.cfg.SecretKey,
	})
}

// NewRequest creates a signed HTTP request for requestPath on the configured
// host. body must be the exact bytes to send; it is used for the digest.
// The method is sent upper-cased, and GET and DELETE requests carry no body.
func (c *Client) NewRequest(ctx context.Context, method, requestPath string, body []byte) (*http.Request, error) {
	headers, err := c.SignHeaders(method, requestPath, body)
	if err != nil {
		return nil, err
	}

	// Only POST and PUT bodies are covered by the digest
	method = strings.ToUpper(method)
	var bodyReader io.Reader
	if _, signed := headers[signature.DigestHeader]; signed && len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	url := fmt.Sprintf("https://%s%s", c.cfg.Host, requestPath)
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, types.WrapClientError(types.ErrCodeInvalidInput, types.StageRequest, "failed to create HTTP request", err)
	}

	headers.Apply(req.Header)
	req.Host = c.cfg.Host
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cybersource-auth-client/1.0")
	return req, nil
}

// Do sends a signed request and returns the response. Responses with a
// status of 400 or above are turned into an HTTP_ERROR.
func (c *Client) Do(ctx context.Context, method, requestPath string, body []byte) (*http.Response, error) {
	req, err := c.NewRequest(ctx, method, requestPath, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.WrapClientError(types.ErrCodeHTTPError, types.StageRequest, "HTTP request failed", err)
	}

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		c.logger.Warn().
			Str("method", method).
			Str("path", requestPath).
			Int("status", resp.StatusCode).
			Msg("API request rejected")
		clientErr := types.NewClientError(types.ErrCodeHTTPError, types.StageRequest, string(bodyBytes))
		clientErr.StatusCode = resp.StatusCode
		return nil, clientErr
	}

	return resp, nil
}

// ValidateJWT verifies a token issued by the processor for the configured
// host, bounded by the configured key fetch timeout
func (c *Client) ValidateJWT(ctx context.Context, token string) (types.Claims, error) {
	return c.verifier.ValidateJWT(ctx, token, c.cfg.Host, c.cfg.KeyFetchTimeout)
}

// CreateHeaders signs a single request with the system clock. It mirrors
// the standalone signing call and needs no Client.
func CreateHeaders(merchantID, host, httpMethod, requestPath string, body []byte, keyID, secretKey string) (signature.HeaderSet, error) {
	return signature.CreateHeaders(merchantID, host, httpMethod, requestPath, body, keyID, secretKey)
}

// ValidateJWT verifies a processor token against the key published on host,
// fetching the key afresh within timeout. A timeout of zero selects the
// default of five seconds.
func ValidateJWT(ctx context.Context, token, host string, timeout time.Duration) (types.Claims, error) {
	return jwt.ValidateJWT(ctx, token, host, timeout)
}
