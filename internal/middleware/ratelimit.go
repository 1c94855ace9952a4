package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/gridwatch/vms/internal/ratelimit"
)

type RateLimit struct {
	limiter *ratelimit.Limiter
	cfg     ratelimit.LimitConfig
}

func NewRateLimit(l *ratelimit.Limiter, cfg ratelimit.LimitConfig) *RateLimit {
	return &RateLimit{limiter: l, cfg: cfg}
}

// Middleware throttles by client IP. Redis being down fails open: throttling
// is protection, not a correctness guarantee.
func (m *RateLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		d, err := m.limiter.Check(r.Context(), m.limiter.HashIP(ip), m.cfg)
		if err != nil {
			log.Printf("[ratelimit] check failed, allowing request: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
