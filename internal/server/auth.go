package server

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/questforge-ai/modelplane/pkg/apierror"
)

// AdminKeyHeader carries the shared secret for administrative routes.
const AdminKeyHeader = "X-Admin-Key"

// adminAuth gates mutating routes behind the configured key allowlist. An
// empty allowlist disables administration entirely rather than leaving the
// routes open.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.config.AdminKeys) == 0 {
			respondError(c, apierror.Unavailable("administrative API is not configured"))
			c.Abort()
			return
		}

		presented := c.GetHeader(AdminKeyHeader)
		if presented == "" {
			respondError(c, apierror.Unauthorized("missing %s header", AdminKeyHeader))
			c.Abort()
			return
		}

		for _, key := range s.config.AdminKeys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
				c.Next()
				return
			}
		}

		respondError(c, apierror.Unauthorized("admin key rejected"))
		c.Abort()
	}
}
