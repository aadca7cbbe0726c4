package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// producerCtxKey is the Gin context key holding the authenticated producer ID.
const producerCtxKey = "producer_id"

// APIKeyMiddleware maps X-API-Key → producer ID for the ingestion and
// analytics routes. The scrape and health endpoints stay outside this
// middleware: monitoring must always be able to reach them.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		producerID, ok := keys[apiKey]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(producerCtxKey, producerID)
		c.Next()
	}
}

// ProducerID returns the authenticated producer ID from the request context.
func ProducerID(c *gin.Context) string {
	v, _ := c.Get(producerCtxKey)
	s, _ := v.(string)
	return s
}
