package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	jose "gopkg.in/go-jose/go-jose.v2"
)

var testSecret = []byte("yoursecret")

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestHMACVerifierReturnsAllClaims(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, Options{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token := signHS256(t, testSecret, jwt.MapClaims{
		"id":         "1234567UUIDfromgraph",
		"name":       "Conrad",
		"account_id": "*",
		"roles":      []string{"ContentProfile_distribution_reviewer"},
	})

	claims, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims["id"] != "1234567UUIDfromgraph" || claims["name"] != "Conrad" || claims["account_id"] != "*" {
		t.Fatalf("unexpected claims: %v", claims)
	}
	roles, ok := claims["roles"].([]interface{})
	if !ok || len(roles) != 1 {
		t.Fatalf("unexpected roles claim: %#v", claims["roles"])
	}
}

func TestHMACVerifierRejectsBadTokens(t *testing.T) {
	v, err := NewHMACVerifier(testSecret, Options{Issuer: "crm", Audience: "contacts"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	valid := jwt.MapClaims{"id": "u1", "iss": "crm", "aud": "contacts"}

	expired := jwt.MapClaims{"id": "u1", "iss": "crm", "aud": "contacts", "exp": time.Now().Add(-time.Hour).Unix()}
	wrongIssuer := jwt.MapClaims{"id": "u1", "iss": "other", "aud": "contacts"}
	wrongAudience := jwt.MapClaims{"id": "u1", "iss": "crm", "aud": "billing"}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-jwt",
		"wrong secret":   signHS256(t, []byte("other"), valid),
		"expired":        signHS256(t, testSecret, expired),
		"wrong issuer":   signHS256(t, testSecret, wrongIssuer),
		"wrong audience": signHS256(t, testSecret, wrongAudience),
		"alg none":       none,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidCredential) {
				t.Fatalf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}

	if _, err := v.Verify(context.Background(), signHS256(t, testSecret, valid)); err != nil {
		t.Fatalf("expected valid token to pass, got %v", err)
	}
}

func TestNewHMACVerifierRequiresSecret(t *testing.T) {
	if _, err := NewHMACVerifier(nil, Options{}); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestRSAVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	v, err := NewRSAVerifier(pemBytes, Options{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"id": "u1"}).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := v.Verify(context.Background(), token)
	if err != nil || claims["id"] != "u1" {
		t.Fatalf("unexpected result: %v %v", claims, err)
	}

	// An HS256 token signed with the public key bytes must not pass.
	forged := signHS256(t, pemBytes, jwt.MapClaims{"id": "u1"})
	if _, err := v.Verify(context.Background(), forged); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected algorithm confusion to be rejected, got %v", err)
	}

	if _, err := NewRSAVerifier([]byte("junk"), Options{}); err == nil {
		t.Fatalf("expected error for invalid PEM")
	}
}

func TestJWKSVerifierSelectsKeyByKid(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ec key: %v", err)
	}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &rsaKey.PublicKey, KeyID: "rsa-1", Algorithm: "RS256", Use: "sig"},
		{Key: &ecKey.PublicKey, KeyID: "ec-1", Algorithm: "ES256", Use: "sig"},
	}}

	v, err := NewJWKSVerifier(set, Options{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	rsaToken := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"id": "u1"})
	rsaToken.Header["kid"] = "rsa-1"
	signed, err := rsaToken.SignedString(rsaKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), signed); err != nil {
		t.Fatalf("expected rsa token to verify: %v", err)
	}

	ecToken := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{"id": "u2"})
	ecToken.Header["kid"] = "ec-1"
	signed, err = ecToken.SignedString(ecKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), signed); err != nil {
		t.Fatalf("expected ec token to verify: %v", err)
	}

	unknown := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"id": "u3"})
	unknown.Header["kid"] = "missing"
	signed, err = unknown.SignedString(rsaKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), signed); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected unknown kid to be rejected, got %v", err)
	}
}

func TestFetchJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	got, err := FetchJWKS(context.Background(), srv.URL+"/.well-known/jwks.json", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Key("k1")) != 1 {
		t.Fatalf("expected key k1 in fetched set")
	}

	if _, err := FetchJWKS(context.Background(), srv.URL+"/missing", nil); err == nil {
		t.Fatalf("expected error for missing jwks")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v, err := NewHMACVerifier(testSecret, Options{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	r := gin.New()
	r.Use(Middleware(v, zap.NewNop()))
	r.GET("/whoami", func(c *gin.Context) {
		claims, err := ClaimsFromGinContext(c)
		if err != nil {
			t.Fatalf("expected claims, got error: %v", err)
		}
		c.JSON(http.StatusOK, gin.H{"id": claims["id"]})
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + signHS256(t, testSecret, jwt.MapClaims{"id": "u1"}), http.StatusOK},
		{"lowercase scheme", "bearer " + signHS256(t, testSecret, jwt.MapClaims{"id": "u1"}), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			r.ServeHTTP(res, req)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
			if res.Code == http.StatusUnauthorized {
				var body map[string]string
				if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Fatalf("expected error body, got %s", res.Body.String())
				}
			}
		})
	}
}
