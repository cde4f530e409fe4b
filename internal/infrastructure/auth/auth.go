package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"livechat-api/internal/config"
	"livechat-api/internal/domain/event"
	"livechat-api/internal/utils/platformerrors"
)

// Typed verification failures. They map one to one onto auth_error codes.
var (
	ErrMissingToken = errors.New("token or operator_id required")
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// OperatorIDKey is the gin context key holding the authenticated operator.
const OperatorIDKey = "operator_id"

const (
	jwksRefreshInterval = time.Hour
	clockSkew           = 30 * time.Second
)

// Verifier exchanges a bearer credential for a verified operator identity.
type Verifier struct {
	secret    []byte
	algorithm string
	issuer    string
	audience  string
	jwksURL   string
	devBypass bool
	log       zerolog.Logger
	jwks      atomic.Pointer[keyfunc.JWKS]
}

// NewVerifier builds a verifier from config. A JWKS URL triggers an initial
// key fetch; the keys are refreshed in the background afterwards.
func NewVerifier(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Verifier, error) {
	v := &Verifier{
		secret:    []byte(strings.TrimSpace(cfg.AuthSecret)),
		algorithm: strings.ToUpper(strings.TrimSpace(cfg.AuthAlgorithm)),
		issuer:    strings.TrimSpace(cfg.AuthIssuer),
		audience:  strings.TrimSpace(cfg.AuthAudience),
		jwksURL:   strings.TrimSpace(cfg.AuthJWKSURL),
		devBypass: cfg.IsDevelopment(),
		log:       log.With().Str("component", "auth").Logger(),
	}
	if v.algorithm == "" {
		v.algorithm = jwt.SigningMethodHS256.Alg()
	}

	if v.jwksURL != "" {
		jwks, err := keyfunc.Get(v.jwksURL, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   jwksRefreshInterval,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				v.log.Error().Err(err).Msg("jwks refresh failed")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("fetch jwks: %w", err)
		}
		v.jwks.Store(jwks)
	}

	if len(v.secret) == 0 && v.jwksURL == "" {
		v.log.Warn().Msg("no AUTH_SECRET or JWKS_URL configured; only development bypass is available")
	}
	return v, nil
}

// Close stops the background JWKS refresh.
func (v *Verifier) Close() {
	if jwks := v.jwks.Load(); jwks != nil {
		jwks.EndBackground()
	}
}

// Verify validates rawToken and returns its subject.
func (v *Verifier) Verify(_ context.Context, rawToken string) (string, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods()),
		jwt.WithLeeway(clockSkew),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(rawToken, claims, v.keyFor)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return sub, nil
}

// Authenticate resolves the identity for a websocket auth frame. The token
// wins when present; otherwise development builds accept a bare operator id.
func (v *Verifier) Authenticate(ctx context.Context, token, operatorID string) (string, error) {
	if strings.TrimSpace(token) != "" {
		return v.Verify(ctx, token)
	}
	operatorID = strings.TrimSpace(operatorID)
	if v.devBypass && operatorID != "" {
		v.log.Warn().Str("operator_id", operatorID).Msg("auth bypass used in development mode")
		return operatorID, nil
	}
	return "", ErrMissingToken
}

// Ready reports whether the configured key material is loaded.
func (v *Verifier) Ready() bool {
	if v.jwksURL != "" {
		return v.jwks.Load() != nil
	}
	return true
}

func (v *Verifier) methods() []string {
	methods := make([]string, 0, 4)
	if len(v.secret) > 0 {
		methods = append(methods, v.algorithm)
	}
	if v.jwks.Load() != nil {
		methods = append(methods, "RS256", "RS384", "ES256")
	}
	return methods
}

func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(v.secret) == 0 {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return v.secret, nil
	}
	jwks := v.jwks.Load()
	if jwks == nil {
		return nil, errors.New("jwks not initialised")
	}
	return jwks.Keyfunc(token)
}

// CodeFor maps a verification error onto its auth_error code.
func CodeFor(err error) event.Code {
	switch {
	case errors.Is(err, ErrMissingToken):
		return event.CodeAuthMissingToken
	case errors.Is(err, ErrExpiredToken):
		return event.CodeAuthExpiredToken
	default:
		return event.CodeAuthInvalidToken
	}
}

// Message is the client-facing text for a verification error.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "Token or operator_id required."
	case errors.Is(err, ErrExpiredToken):
		return "Token expired. Please refresh and reconnect."
	default:
		return "Invalid token"
	}
}

// Middleware authenticates REST calls with a bearer JWT.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			platformerrors.WriteUnauthorized(c, "missing bearer token")
			return
		}

		operatorID, err := v.Verify(c.Request.Context(), tokenString)
		if err != nil {
			v.log.Debug().Err(err).Msg("jwt validation failed")
			platformerrors.WriteUnauthorized(c, Message(err))
			return
		}

		c.Set(OperatorIDKey, operatorID)
		c.Next()
	}
}

// RequireInternalKey guards service-to-service routes with a shared key.
func RequireInternalKey(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	return func(c *gin.Context) {
		if key == "" {
			platformerrors.WriteForbidden(c, "internal api is disabled")
			return
		}
		provided := strings.TrimSpace(c.GetHeader("X-Internal-Key"))
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			platformerrors.WriteUnauthorized(c, "invalid internal key")
			return
		}
		c.Next()
	}
}

// OperatorID returns the operator set by Middleware.
func OperatorID(c *gin.Context) string {
	return c.GetString(OperatorIDKey)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
