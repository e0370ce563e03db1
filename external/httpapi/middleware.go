package httpapi

import (
	"log/slog"
	"time"

	"github.com/foxseedlab/circles/internal/identity"
	"github.com/gin-gonic/gin"
)

const requesterKey = "requester"

// requireIdentity resolves the Authorization header to a user id.
func requireIdentity(verifier identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(requesterKey, uid)
		c.Next()
	}
}

func requester(c *gin.Context) string {
	return c.GetString(requesterKey)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"user_id", requester(c),
		)
	}
}
