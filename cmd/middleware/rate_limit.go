package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterTTL = 5 * time.Minute

type ipLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

type limiterSet struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byIP  map[string]*ipLimiter
	now   func() time.Time
}

// RateLimit applies a token bucket per client IP. perMinute <= 0 disables it.
func RateLimit(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	s := newLimiterSet(perMinute)

	return func(c *gin.Context) {
		if !s.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"status": "Ko", "error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func newLimiterSet(perMinute int) *limiterSet {
	return &limiterSet{
		limit: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: max(perMinute/2, 1),
		byIP:  map[string]*ipLimiter{},
		now:   time.Now,
	}
}

func (s *limiterSet) allow(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, l := range s.byIP {
		if now.After(l.expires) {
			delete(s.byIP, key)
		}
	}

	l, ok := s.byIP[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.byIP[ip] = l
	}
	l.expires = now.Add(limiterTTL)
	return l.limiter.AllowN(now, 1)
}
