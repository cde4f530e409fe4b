package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat-api/internal/config"
	"livechat-api/internal/domain/event"
)

const testSecret = "test-secret-with-enough-length"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newTestVerifier(t *testing.T, env string) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), &config.Config{
		Environment:   env,
		AuthSecret:    testSecret,
		AuthAlgorithm: "HS256",
	}, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestVerify(t *testing.T) {
	v := newTestVerifier(t, "production")
	now := time.Now()

	tests := []struct {
		name     string
		token    string
		expected string
		err      error
		code     event.Code
	}{
		{
			name:     "valid",
			token:    signHS256(t, jwt.MapClaims{"sub": "op-1", "exp": now.Add(time.Hour).Unix()}),
			expected: "op-1",
		},
		{
			name:  "missing",
			token: "  ",
			err:   ErrMissingToken,
			code:  event.CodeAuthMissingToken,
		},
		{
			name:  "expired",
			token: signHS256(t, jwt.MapClaims{"sub": "op-1", "exp": now.Add(-time.Hour).Unix()}),
			err:   ErrExpiredToken,
			code:  event.CodeAuthExpiredToken,
		},
		{
			name:  "no subject",
			token: signHS256(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}),
			err:   ErrInvalidToken,
			code:  event.CodeAuthInvalidToken,
		},
		{
			name:  "garbage",
			token: "not-a-jwt-at-all",
			err:   ErrInvalidToken,
			code:  event.CodeAuthInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			operatorID, err := v.Verify(context.Background(), tt.token)
			if tt.err != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
				assert.Equal(t, tt.code, CodeFor(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, operatorID)
		})
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := newTestVerifier(t, "production")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "op-1"}).SignedString([]byte("another-secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyIssuerAndAudience(t *testing.T) {
	v, err := NewVerifier(context.Background(), &config.Config{
		Environment:  "production",
		AuthSecret:   testSecret,
		AuthIssuer:   "https://auth.example.com",
		AuthAudience: "livechat",
	}, zerolog.Nop())
	require.NoError(t, err)

	good := signHS256(t, jwt.MapClaims{"sub": "op-1", "iss": "https://auth.example.com", "aud": "livechat"})
	operatorID, err := v.Verify(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "op-1", operatorID)

	bad := signHS256(t, jwt.MapClaims{"sub": "op-1", "iss": "https://other.example.com", "aud": "livechat"})
	_, err = v.Verify(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateDevelopmentBypass(t *testing.T) {
	dev := newTestVerifier(t, "development")
	operatorID, err := dev.Authenticate(context.Background(), "", "op-dev")
	require.NoError(t, err)
	assert.Equal(t, "op-dev", operatorID)

	prod := newTestVerifier(t, "production")
	_, err = prod.Authenticate(context.Background(), "", "op-dev")
	assert.ErrorIs(t, err, ErrMissingToken)

	// A token always takes precedence over the bare id.
	token := signHS256(t, jwt.MapClaims{"sub": "op-jwt"})
	operatorID, err = dev.Authenticate(context.Background(), token, "op-dev")
	require.NoError(t, err)
	assert.Equal(t, "op-jwt", operatorID)
}

func TestVerifyJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "key-1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	v, err := NewVerifier(context.Background(), &config.Config{
		Environment: "production",
		AuthJWKSURL: srv.URL,
		AuthIssuer:  "https://auth.example.com",
	}, zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()
	assert.True(t, v.Ready())

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "op-rsa",
		"iss": "https://auth.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	operatorID, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "op-rsa", operatorID)

	// HMAC tokens are refused when no shared secret is configured.
	_, err = v.Verify(context.Background(), signHS256(t, jwt.MapClaims{"sub": "op-1", "iss": "https://auth.example.com"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := newTestVerifier(t, "production")

	router := gin.New()
	router.GET("/me", v.Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, OperatorID(c))
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "no header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signHS256(t, jwt.MapClaims{"sub": "op-9"}), status: http.StatusOK, body: "op-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRequireInternalKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/internal", RequireInternalKey("s3cret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set("X-Internal-Key", "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	disabled := gin.New()
	disabled.GET("/internal", RequireInternalKey(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w = httptest.NewRecorder()
	disabled.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
