package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
)

// TokenVerifier checks a bearer token and returns its subject.
type TokenVerifier func(ctx context.Context, token string) (string, error)

// OIDCVerifier verifies ID tokens issued by an OpenID Connect provider.
func OIDCVerifier(v *oidc.IDTokenVerifier) TokenVerifier {
	return func(ctx context.Context, raw string) (string, error) {
		tok, err := v.Verify(ctx, raw)
		if err != nil {
			return "", err
		}
		return tok.Subject, nil
	}
}

// NewOIDCVerifier discovers the issuer and returns a verifier bound to clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", issuer, err)
	}
	return OIDCVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// BearerAuth rejects requests without a valid bearer token. /ping is always open.
func BearerAuth(verify TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/ping" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimSpace(header[len("Bearer "):])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty bearer token"})
			return
		}
		sub, err := verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Request = c.Request.WithContext(common.WithSubject(c.Request.Context(), sub))
		c.Next()
	}
}
