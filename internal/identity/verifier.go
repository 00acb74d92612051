// Package identity verifies bearer tokens and exposes their claims.
package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jose "gopkg.in/go-jose/go-jose.v2"
)

// ErrInvalidCredential is returned for missing, malformed, expired or
// wrongly signed tokens.
var ErrInvalidCredential = errors.New("invalid credential")

// Verifier turns a raw bearer token into verified claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (map[string]any, error)
}

// Options are the claim checks applied on top of signature verification.
type Options struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTVerifier verifies compact JWS tokens.
type JWTVerifier struct {
	parser  *jwt.Parser
	keyFunc jwt.Keyfunc
}

var _ Verifier = (*JWTVerifier)(nil)

func newJWTVerifier(methods []string, keyFunc jwt.Keyfunc, opts Options) *JWTVerifier {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}
	return &JWTVerifier{parser: jwt.NewParser(parserOpts...), keyFunc: keyFunc}
}

// NewHMACVerifier verifies HS256 tokens signed with a shared secret.
func NewHMACVerifier(secret []byte, opts Options) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("hmac secret is required")
	}
	return newJWTVerifier([]string{jwt.SigningMethodHS256.Alg()}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts), nil
}

// NewRSAVerifier verifies RS256 tokens against a single PEM encoded public key.
func NewRSAVerifier(publicKeyPEM []byte, opts Options) (*JWTVerifier, error) {
	rsaPub, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return newJWTVerifier([]string{jwt.SigningMethodRS256.Alg()}, func(*jwt.Token) (interface{}, error) {
		return rsaPub, nil
	}, opts), nil
}

// NewJWKSVerifier verifies RS256 and ES256 tokens against the key named by
// the token's "kid" header.
func NewJWKSVerifier(keys jose.JSONWebKeySet, opts Options) (*JWTVerifier, error) {
	if len(keys.Keys) == 0 {
		return nil, errors.New("key set is empty")
	}
	methods := []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}
	return newJWTVerifier(methods, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		var candidates []jose.JSONWebKey
		if kid != "" {
			candidates = keys.Key(kid)
		} else if len(keys.Keys) == 1 {
			candidates = keys.Keys
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no key for kid %q", kid)
		}
		switch k := candidates[0].Public().Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
			return k, nil
		default:
			return nil, fmt.Errorf("unsupported key type %T", k)
		}
	}, opts), nil
}

// Verify checks the signature and registered claims and returns all claims.
func (v *JWTVerifier) Verify(_ context.Context, token string) (map[string]any, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}
	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token not valid", ErrInvalidCredential)
	}
	return map[string]any(claims), nil
}
