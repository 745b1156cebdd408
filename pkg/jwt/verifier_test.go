package jwt_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OpsMx/cybersource-auth-client/pkg/clock"
	cybsjwt "github.com/OpsMx/cybersource-auth-client/pkg/jwt"
	"github.com/OpsMx/cybersource-auth-client/pkg/keys"
	"github.com/OpsMx/cybersource-auth-client/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	signingKeyOnce sync.Once
	signingKey     *rsa.PrivateKey
)

func getSigningKey(t *testing.T) *rsa.PrivateKey {
	signingKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		signingKey = key
	})
	return signingKey
}

func components(key *rsa.PublicKey) ([]byte, []byte) {
	return key.N.Bytes(), big.NewInt(int64(key.E)).Bytes()
}

func signToken(t *testing.T, kid string, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(getSigningKey(t))
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "Flex API",
		"sub":   "transient-token-1",
		"exp":   time.Now().Add(15 * time.Minute).Unix(),
		"iat":   time.Now().Unix(),
		"jti":   "1E3GQY1RNKBG6IBD2EP93C43PIZ2NQ6SQLUIM3S16BGLHTY4IIEK5EB1AE5D73A4",
		"flx":   map[string]interface{}{"path": "/flex/v2/tokens", "type": "mf-2.0.0"},
		"count": 3.0,
	}
}

// staticResolver serves a fixed key and records the requested kid.
type staticResolver struct {
	key   *keys.PublicKey
	err   error
	calls atomic.Int32
	kid   atomic.Value
}

func (r *staticResolver) FetchPublicKey(ctx context.Context, kid, host string, timeout time.Duration) (*keys.PublicKey, error) {
	r.calls.Add(1)
	r.kid.Store(kid)
	if r.err != nil {
		return nil, r.err
	}
	return r.key, nil
}

func newStaticResolver(t *testing.T, n, e []byte) *staticResolver {
	key, err := keys.NewPublicKeyFromComponents(
		"K1",
		base64.StdEncoding.EncodeToString(n),
		base64.StdEncoding.EncodeToString(e))
	require.NoError(t, err)
	return &staticResolver{key: key}
}

func newVerifier(resolver keys.Resolver) *cybsjwt.Verifier {
	return cybsjwt.NewVerifier(resolver, cybsjwt.WithLogger(zerolog.Nop()))
}

func requireCode(t *testing.T, err error, code string, stage types.Stage) {
	clientErr := types.GetClientError(err)
	require.NotNil(t, clientErr, "expected a client error, got %v", err)
	require.Equal(t, code, clientErr.Code)
	require.Equal(t, stage, clientErr.Stage)
}

func TestVerifierSuccess(t *testing.T) {
	n, e := components(&getSigningKey(t).PublicKey)
	resolver := newStaticResolver(t, n, e)
	verifier := newVerifier(resolver)

	expected := validClaims()
	claims, err := verifier.ValidateJWT(context.Background(), signToken(t, "K1", expected), "api.example.com", time.Second)
	require.NoError(t, err)

	// Claims are returned exactly as decoded from the payload.
	require.Len(t, claims, len(expected))
	require.Equal(t, "Flex API", claims["iss"])
	require.Equal(t, expected["jti"], claims["jti"])
	require.Equal(t, float64(expected["exp"].(int64)), claims["exp"])
	require.Equal(t, 3.0, claims["count"])
	require.Equal(t, map[string]interface{}{"path": "/flex/v2/tokens", "type": "mf-2.0.0"}, claims["flx"])
	require.Equal(t, "K1", resolver.kid.Load())
}

func TestVerifierStructuralFailures(t *testing.T) {
	n, e := components(&getSigningKey(t).PublicKey)
	resolver := newStaticResolver(t, n, e)
	verifier := newVerifier(resolver)
	ctx := context.Background()
	encode := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	t.Run("Empty", func(t *testing.T) {
		_, err := verifier.ValidateJWT(ctx, "", "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeInvalidInput, types.StageEmptyToken)
	})

	t.Run("TwoSegments", func(t *testing.T) {
		_, err := verifier.ValidateJWT(ctx, "a.b", "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeMalformedToken, types.StageStructure)
	})

	t.Run("FourSegments", func(t *testing.T) {
		_, err := verifier.ValidateJWT(ctx, "a.b.c.d", "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeMalformedToken, types.StageStructure)
	})

	t.Run("HeaderNotBase64", func(t *testing.T) {
		_, err := verifier.ValidateJWT(ctx, "***.b.c", "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeMalformedToken, types.StageHeaderDecode)
	})

	t.Run("HeaderNotJSON", func(t *testing.T) {
		_, err := verifier.ValidateJWT(ctx, encode("not json")+".b.c", "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeMalformedToken, types.StageHeaderDecode)
	})

	t.Run("HeaderNull", func(t *testing.T) {
		_, err := verifier.ValidateJWT(ctx, encode("null")+".b.c", "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeMalformedToken, types.StageHeaderDecode)
	})

	t.Run("MissingKeyID", func(t *testing.T) {
		_, err := verifier.ValidateJWT(ctx, signToken(t, "", validClaims()), "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeMissingKeyID, types.StageHeaderDecode)
	})

	t.Run("NonStringKeyID", func(t *testing.T) {
		_, err := verifier.ValidateJWT(ctx, encode(`{"alg":"RS256","kid":7}`)+".b.c", "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeMissingKeyID, types.StageHeaderDecode)
	})

	// None of the structural failures reach the key resolver.
	require.Equal(t, int32(0), resolver.calls.Load())
}

func TestVerifierKeyFetchFailures(t *testing.T) {
	ctx := context.Background()
	token := signToken(t, "K1", validClaims())

	t.Run("Propagated", func(t *testing.T) {
		fetchErr := types.NewKeyFetchError(types.FetchTimeout, "timed out", context.DeadlineExceeded)
		_, err := newVerifier(&staticResolver{err: fetchErr}).ValidateJWT(ctx, token, "api.example.com", time.Second)
		require.Same(t, fetchErr, err)
	})

	t.Run("Wrapped", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		_, err := newVerifier(&staticResolver{err: cause}).ValidateJWT(ctx, token, "api.example.com", time.Second)
		require.True(t, types.IsFetchFailure(err, types.FetchNetwork))
		require.ErrorIs(t, err, cause)
	})
}

func TestVerifierSignatureFailures(t *testing.T) {
	ctx := context.Background()
	n, e := components(&getSigningKey(t).PublicKey)

	t.Run("Expired", func(t *testing.T) {
		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
		_, err := newVerifier(newStaticResolver(t, n, e)).ValidateJWT(ctx, signToken(t, "K1", claims), "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeInvalidToken, types.StageSignatureVerify)
		require.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("TamperedPayload", func(t *testing.T) {
		segments := strings.Split(signToken(t, "K1", validClaims()), ".")
		other := strings.Split(signToken(t, "K1", jwt.MapClaims{"sub": "someone-else"}), ".")
		tampered := segments[0] + "." + other[1] + "." + segments[2]
		_, err := newVerifier(newStaticResolver(t, n, e)).ValidateJWT(ctx, tampered, "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeInvalidToken, types.StageSignatureVerify)
		require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("AlgorithmMismatch", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
		token.Header["kid"] = "K1"
		signed, err := token.SignedString([]byte("shared-secret"))
		require.NoError(t, err)

		_, err = newVerifier(newStaticResolver(t, n, e)).ValidateJWT(ctx, signed, "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeInvalidToken, types.StageSignatureVerify)
		require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		otherN, otherE := components(&other.PublicKey)
		_, err = newVerifier(newStaticResolver(t, otherN, otherE)).ValidateJWT(ctx, signToken(t, "K1", validClaims()), "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeInvalidToken, types.StageSignatureVerify)
	})
}

func TestVerifierFlippedComponents(t *testing.T) {
	ctx := context.Background()
	token := signToken(t, "K1", validClaims())
	n, e := components(&getSigningKey(t).PublicKey)

	flip := func(b []byte, i int) []byte {
		flipped := append([]byte(nil), b...)
		flipped[i] ^= 0xff
		return flipped
	}

	for _, i := range []int{1, len(n) / 2, len(n) - 1} {
		_, err := newVerifier(newStaticResolver(t, flip(n, i), e)).ValidateJWT(ctx, token, "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeInvalidToken, types.StageSignatureVerify)
	}
	for i := range e {
		_, err := newVerifier(newStaticResolver(t, n, flip(e, i))).ValidateJWT(ctx, token, "api.example.com", time.Second)
		requireCode(t, err, types.ErrCodeInvalidToken, types.StageSignatureVerify)
	}
}

func TestVerifierEndToEnd(t *testing.T) {
	n, e := components(&getSigningKey(t).PublicKey)
	var requests atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/flex/v2/public-keys/K1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(types.PublicKeyResponse{
			N: base64.StdEncoding.EncodeToString(n),
			E: base64.StdEncoding.EncodeToString(e),
		})
	}))
	defer server.Close()
	host := strings.TrimPrefix(server.URL, "https://")

	verifier := newVerifier(keys.NewHTTPResolver(server.Client(), clock.SystemClock, zerolog.Nop()))
	ctx := context.Background()

	claims, err := verifier.ValidateJWT(ctx, signToken(t, "K1", validClaims()), host, time.Second)
	require.NoError(t, err)
	require.Equal(t, "transient-token-1", claims["sub"])

	// Without a cache, every validation fetches the key again.
	_, err = verifier.ValidateJWT(ctx, signToken(t, "K1", validClaims()), host, time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(2), requests.Load())

	_, err = verifier.ValidateJWT(ctx, signToken(t, "K2", validClaims()), host, time.Second)
	require.True(t, types.IsFetchFailure(err, types.FetchBadStatus))
}

func TestParseHeader(t *testing.T) {
	header, err := cybsjwt.ParseHeader(signToken(t, "K1", validClaims()))
	require.NoError(t, err)
	require.Equal(t, &types.JWTHeader{Alg: "RS256", Kid: "K1", Typ: "JWT"}, header)
}
