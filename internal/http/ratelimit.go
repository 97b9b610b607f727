package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// HeaderSessionID keys the rate limiter. Requests without it are keyed
	// by client address.
	HeaderSessionID = "X-Session-ID"

	// maxLimiters bounds the limiter table; idle limiters are swept first.
	maxLimiters = 4096
	limiterIdle = 10 * time.Minute
)

type sessionLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// sessionLimiters hands out one token bucket per session.
type sessionLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*sessionLimiter
	now      func() time.Time
}

func newSessionLimiters(perSecond float64, burst int) *sessionLimiters {
	if burst < 1 {
		burst = 1
	}
	return &sessionLimiters{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*sessionLimiter),
		now:      time.Now,
	}
}

func (s *sessionLimiters) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sl, ok := s.limiters[key]
	if !ok {
		if len(s.limiters) >= maxLimiters {
			s.sweep(now)
		}
		sl = &sessionLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = sl
	}
	sl.lastSeen = now
	return sl.limiter.AllowN(now, 1)
}

// sweep drops idle limiters, or the least recently seen one when none are idle.
func (s *sessionLimiters) sweep(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, sl := range s.limiters {
		if now.Sub(sl.lastSeen) > limiterIdle {
			delete(s.limiters, k)
			continue
		}
		if oldestKey == "" || sl.lastSeen.Before(oldest) {
			oldestKey, oldest = k, sl.lastSeen
		}
	}
	if len(s.limiters) >= maxLimiters && oldestKey != "" {
		delete(s.limiters, oldestKey)
	}
}

func (s *sessionLimiters) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// rateLimit rejects requests over the session's budget with 429.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get(HeaderSessionID)
		if key == "" {
			key = c.RealIP()
		}
		if !s.limiters.allow(key) {
			s.metrics.limited(c)
			s.logger.Debug("rate limited", zap.String("key", key), zap.String("path", c.Path()))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}
