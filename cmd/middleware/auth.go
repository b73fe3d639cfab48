// cmd/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/configuration"
	"github.com/coreos/go-oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// UserIDKey holds the token subject once a request is authenticated.
const UserIDKey = "user_id"

// TokenVerifier checks a raw bearer token and returns its subject.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (string, error)
}

// NewVerifier prefers the static Keycloak realm key; otherwise it discovers
// the issuer through OIDC.
func NewVerifier(ctx context.Context, cfg configuration.AuthConfig) (TokenVerifier, error) {
	if cfg.KeycloakPublicKey != "" {
		return NewKeyVerifier(cfg.KeycloakPublicKey)
	}
	if cfg.KeycloakURL != "" {
		return NewOIDCVerifier(ctx, cfg.KeycloakURL)
	}
	return nil, errors.New("no keycloak public key or issuer url configured")
}

// KeyVerifier validates RS256 tokens against one PEM public key.
type KeyVerifier struct {
	parser *jwt.Parser
	key    any
}

// NewKeyVerifier accepts either a full PEM block or the bare base64 body that
// Keycloak shows in the realm settings.
func NewKeyVerifier(pemOrBase64 string) (*KeyVerifier, error) {
	pem := strings.TrimSpace(pemOrBase64)
	if !strings.HasPrefix(pem, "-----BEGIN") {
		pem = "-----BEGIN PUBLIC KEY-----\n" + pem + "\n-----END PUBLIC KEY-----"
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parse keycloak public key: %w", err)
	}
	return &KeyVerifier{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired()),
		key:    key,
	}, nil
}

func (v *KeyVerifier) Verify(_ context.Context, raw string) (string, error) {
	tok, err := v.parser.Parse(raw, func(*jwt.Token) (any, error) { return v.key, nil })
	if err != nil {
		return "", err
	}
	return tok.Claims.GetSubject()
}

// OIDCVerifier validates ID tokens against a discovered issuer.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuerURL string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery %s: %w", issuerURL, err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	return idToken.Subject, nil
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(v TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "Ko", "error": "missing auth"})
			return
		}

		tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "Ko", "error": "invalid format"})
			return
		}

		sub, err := v.Verify(c.Request.Context(), tokenStr)
		if err != nil {
			logger.Warn("token rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "Ko", "error": "invalid token"})
			return
		}

		c.Set(UserIDKey, sub)
		c.Next()
	}
}
