package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const claimsContextKey = "identity.claims"

// Middleware rejects requests without a valid bearer token with 401 and
// stores the verified claims on the gin context.
func Middleware(v Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Debug("Bearer token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// ClaimsFromGinContext returns the claims stored by Middleware.
func ClaimsFromGinContext(c *gin.Context) (map[string]any, error) {
	if value, ok := c.Get(claimsContextKey); ok {
		if claims, ok := value.(map[string]any); ok {
			return claims, nil
		}
	}
	return nil, errors.New("claims not found in context")
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
