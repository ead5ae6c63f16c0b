package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/kai-familiar/marmot-cli/internal/api/http/handler"
	"github.com/kai-familiar/marmot-cli/internal/config"
	"github.com/kai-familiar/marmot-cli/pkg/jwt"
)

const (
	APIKeyHeader = "X-API-Key"

	// TokenQueryParam lets browsers, which cannot set headers on a websocket
	// handshake, pass the bearer token.
	TokenQueryParam = "token"

	AuthMethodKey = "auth_method"
	ClaimsKey     = "claims"
)

// Auth admits a request that carries either a bearer JWT signed with the shared
// secret or an API key matching one of the configured bcrypt hashes.
func Auth(cfg config.Auth) gin.HandlerFunc {
	secret := []byte(cfg.Secret)

	hashes := make([][]byte, 0, len(cfg.APIKeyHashes))
	for _, h := range cfg.APIKeyHashes {
		if h = strings.TrimSpace(h); h != "" {
			hashes = append(hashes, []byte(h))
		}
	}

	return func(c *gin.Context) {
		if apiKey := c.GetHeader(APIKeyHeader); apiKey != "" {
			for _, hash := range hashes {
				if bcrypt.CompareHashAndPassword(hash, []byte(apiKey)) == nil {
					c.Set(AuthMethodKey, "api_key")
					c.Next()

					return
				}
			}

			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "invalid API key",
			})

			return
		}

		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "missing access token",
			})

			return
		}

		claims, err := jwt.ValidateToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "invalid or expired token",
			})

			return
		}

		c.Set(AuthMethodKey, "jwt")
		c.Set(ClaimsKey, claims)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return c.Query(TokenQueryParam)
}
