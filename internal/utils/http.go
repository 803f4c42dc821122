package utils

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealClientIP resolves the originating client address behind the reverse
// proxy, preferring X-Real-IP, then the first X-Forwarded-For hop, then
// gin's own resolution.
func GetRealClientIP(c *gin.Context) string {
	if ip := c.GetHeader("X-Real-IP"); ip != "" {
		return ip
	}
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if hops := strings.Split(xff, ","); len(hops) > 0 {
			return strings.TrimSpace(hops[0])
		}
	}
	return c.ClientIP()
}
