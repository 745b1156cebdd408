// Package jwt verifies the RS256 JSON Web Tokens issued by the processor
// against the issuer public key named by the token's kid header.
package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/OpsMx/cybersource-auth-client/pkg/keys"
	"github.com/OpsMx/cybersource-auth-client/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SigningAlgorithm is the only algorithm accepted for processor tokens
const SigningAlgorithm = "RS256"

var (
	verifierPrometheusMetrics sync.Once

	verifierValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybersource",
			Subsystem: "jwt",
			Name:      "validations_total",
			Help:      "Total number of token validations, by outcome.",
		},
		[]string{"outcome"})
)

// Verifier validates tokens. It holds no per-call state and may be used
// concurrently; overlapping validations never share deadlines.
type Verifier struct {
	resolver      keys.Resolver
	logger        zerolog.Logger
	parserOptions []jwt.ParserOption
}

// Option configures a Verifier
type Option func(*Verifier)

// WithLogger sets the logger used to report rejected tokens
func WithLogger(logger zerolog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithParserOptions adds options to the underlying token parser, such as
// jwt.WithLeeway. The accepted signing method cannot be changed.
func WithParserOptions(options ...jwt.ParserOption) Option {
	return func(v *Verifier) {
		v.parserOptions = append(v.parserOptions, options...)
	}
}

// NewVerifier creates a Verifier obtaining issuer keys from resolver
func NewVerifier(resolver keys.Resolver, options ...Option) *Verifier {
	verifierPrometheusMetrics.Do(func() {
		prometheus.MustRegister(verifierValidationsTotal)
	})

	v := &Verifier{
		resolver: resolver,
		logger:   log.Logger,
	}
	for _, option := range options {
		option(v)
	}
	// Applied last so that it cannot be overridden
	v.parserOptions = append(v.parserOptions, jwt.WithValidMethods([]string{SigningAlgorithm}))
	return v
}

var (
	defaultVerifierOnce sync.Once
	defaultVerifier     *Verifier
)

// ValidateJWT validates a token using the default key resolver, which
// fetches the issuer key afresh on every call
func ValidateJWT(ctx context.Context, token, host string, timeout time.Duration) (types.Claims, error) {
	defaultVerifierOnce.Do(func() {
		defaultVerifier = NewVerifier(keys.DefaultResolver)
	})
	return defaultVerifier.ValidateJWT(ctx, token, host, timeout)
}

// ParseHeader decodes the header segment of a compact token. It fails with
// INVALID_INPUT for an empty token, MALFORMED_TOKEN when the token does not
// consist of three segments or its header is not a JSON object, and
// MISSING_KEY_ID when the header does not name a key.
func ParseHeader(token string) (*types.JWTHeader, error) {
	if token == "" {
		return nil, types.InvalidInput(types.StageEmptyToken, "token is required")
	}

	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, types.NewClientError(types.ErrCodeMalformedToken, types.StageStructure, "token must consist of three segments")
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segments[0], "="))
	if err != nil {
		return nil, types.WrapClientError(types.ErrCodeMalformedToken, types.StageHeaderDecode, "failed to decode token header", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(decoded, &fields); err != nil {
		return nil, types.WrapClientError(types.ErrCodeMalformedToken, types.StageHeaderDecode, "failed to parse token header", err)
	}
	if fields == nil {
		return nil, types.NewClientError(types.ErrCodeMalformedToken, types.StageHeaderDecode, "token header is not a JSON object")
	}

	kid, _ := fields["kid"].(string)
	if kid == "" {
		return nil, types.NewClientError(types.ErrCodeMissingKeyID, types.StageHeaderDecode, "token header has no kid")
	}
	alg, _ := fields["alg"].(string)
	typ, _ := fields["typ"].(string)
	return &types.JWTHeader{
		Alg: alg,
		Kid: kid,
		Typ: typ,
	}, nil
}

// ValidateJWT verifies the token's signature and standard time claims
// against the issuer key named in its header, fetched from host within
// timeout. Each stage fails terminally; nothing is retried. On success the
// decoded claims are returned unchanged. Issuer, audience and other
// business checks are left to the caller.
func (v *Verifier) ValidateJWT(ctx context.Context, token, host string, timeout time.Duration) (types.Claims, error) {
	claims, err := v.validate(ctx, token, host, timeout)
	verifierValidationsTotal.WithLabelValues(validationOutcome(err)).Inc()
	if err != nil {
		event := v.logger.Debug().Err(err).Str("host", host)
		if clientErr := types.GetClientError(err); clientErr != nil {
			event = event.Str("code", clientErr.Code).Str("stage", string(clientErr.Stage))
		}
		event.Msg("Rejected token")
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) validate(ctx context.Context, token, host string, timeout time.Duration) (types.Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}

	key, err := v.resolver.FetchPublicKey(ctx, header.Kid, host, timeout)
	if err != nil {
		if types.IsClientError(err) {
			return nil, err
		}
		return nil, types.NewKeyFetchError(types.FetchNetwork, "failed to fetch public key", err)
	}

	parser := jwt.NewParser(v.parserOptions...)
	parsed, err := parser.Parse(token, func(*jwt.Token) (interface{}, error) {
		return key.Key, nil
	})
	if err != nil {
		return nil, types.WrapClientError(types.ErrCodeInvalidToken, types.StageSignatureVerify, "token verification failed", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, types.NewClientError(types.ErrCodeInvalidToken, types.StageSignatureVerify, "invalid token")
	}
	return types.Claims(claims), nil
}

func validationOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if clientErr := types.GetClientError(err); clientErr != nil {
		return clientErr.Code
	}
	return "unknown"
}
