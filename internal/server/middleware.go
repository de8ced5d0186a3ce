package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// requireAuth enforces the API bearer token in production mode. In
// development mode every request is let through.
func requireAuth(production bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !production {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// An unset token locks the API rather than opening it.
			if token == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter wraps a rate.Limiter for HTTP middleware.
type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter allows reqPerSec sustained requests with bursts of twice
// that. A non-positive rate disables limiting.
func newRateLimiter(reqPerSec float64) *rateLimiter {
	if reqPerSec <= 0 {
		return &rateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := int(2 * reqPerSec)
	if burst < 1 {
		burst = 1
	}
	every := time.Duration(float64(time.Second) / reqPerSec)
	return &rateLimiter{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds security headers to all HTTP responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
