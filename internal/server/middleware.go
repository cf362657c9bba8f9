package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

type endpointLimit struct {
	name  string
	rate  float64
	burst int
}

// RateLimit applies the token bucket per client IP. Limiter errors fail
// open: a broken Redis must not take down the checkout path.
func (s *Server) RateLimit(limit *endpointLimit) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + limit.name + ":" + c.ClientIP()

		result, err := s.limiter.Allow(c.Request.Context(), key, limit.rate, limit.burst)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		c.Next()
	}
}
