package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// LoginLimiter throttles login attempts per client IP. The set of tracked
// clients is bounded; the least recently seen are evicted.
type LoginLimiter struct {
	clients *lru.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

// NewLoginLimiter allows perSecond attempts per client with the given burst
func NewLoginLimiter(perSecond float64, burst, maxClients int) (*LoginLimiter, error) {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if burst <= 0 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, err
	}
	return &LoginLimiter{clients: cache, limit: rate.Limit(perSecond), burst: burst}, nil
}

// Allow reports whether the client may attempt a login now
func (l *LoginLimiter) Allow(clientIP string) bool {
	limiter, ok := l.clients.Get(clientIP)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		if prev, found, _ := l.clients.PeekOrAdd(clientIP, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// Handler rejects throttled requests with 429
func (l *LoginLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "Too many login attempts, try again later.",
			})
			return
		}
		c.Next()
	}
}
