package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	jose "github.com/go-jose/go-jose/v3"
)

// PublicKey is an issuer RSA public key reconstructed from its raw numeric
// components, together with the key identifier it was fetched under.
type PublicKey struct {
	KeyID string
	Key   *rsa.PublicKey
}

// NewPublicKeyFromComponents reconstructs an RSA public key from a base64
// encoded big-endian modulus and exponent. Both the standard and the URL
// safe alphabets are accepted, with or without padding.
func NewPublicKeyFromComponents(kid, n, e string) (*PublicKey, error) {
	modulusBytes, err := decodeComponent(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	exponentBytes, err := decodeComponent(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	modulus := new(big.Int).SetBytes(modulusBytes)
	if modulus.Sign() == 0 {
		return nil, errors.New("modulus is zero")
	}
	exponent := new(big.Int).SetBytes(exponentBytes)
	if !exponent.IsInt64() || exponent.Int64() > math.MaxInt32 {
		return nil, errors.New("exponent is too large")
	}
	if exponent.Int64() < 2 {
		return nil, errors.New("exponent is too small")
	}

	key := &PublicKey{
		KeyID: kid,
		Key: &rsa.PublicKey{
			N: modulus,
			E: int(exponent.Int64()),
		},
	}
	if jwk := key.JSONWebKey(); !jwk.Valid() {
		return nil, errors.New("reconstructed key is not a valid RSA public key")
	}
	return key, nil
}

// decodeComponent decodes a base64 string, tolerating the URL safe
// alphabet and missing padding
func decodeComponent(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("component is empty")
	}
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Components returns the modulus and exponent as standard base64 strings, the
// inverse of NewPublicKeyFromComponents
func (pk *PublicKey) Components() (n, e string) {
	n = base64.StdEncoding.EncodeToString(pk.Key.N.Bytes())
	e = base64.StdEncoding.EncodeToString(big.NewInt(int64(pk.Key.E)).Bytes())
	return n, e
}

// JSONWebKey returns the key as a JSON Web Key for use with RS256
func (pk *PublicKey) JSONWebKey() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       pk.Key,
		KeyID:     pk.KeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// PEM returns the public key in PEM format
func (pk *PublicKey) PEM() (string, error) {
	if pk.Key == nil {
		return "", errors.New("public key is nil")
	}

	// Marshal public key to PKIX format
	pubKeyBytes, err := x509.MarshalPKIXPublicKey(pk.Key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubKeyBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), nil
}
