package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// OperatorAuthRequired guards the operator routes with the configured
// bearer token. Without a token the routes are open outside production and
// closed in production.
func (s *Server) OperatorAuthRequired() gin.HandlerFunc {
	expected := []byte(s.cfg.OperatorAPIToken)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			if s.cfg.IsProduction() {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, bearerPrefix) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
