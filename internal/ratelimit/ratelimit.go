// Package ratelimit provides per-client request limiters and the HTTP
// middleware that enforces them.
package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"file-portal/internal/logging"
)

// Limiter decides whether one more request from key fits in its window.
type Limiter interface {
	Allow(key string) bool
	// RetryAfter is how long until key can make another request.
	RetryAfter(key string) time.Duration
}

var rejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "portal_rate_limited_total",
	Help: "Requests rejected by a rate limiter.",
}, []string{"limit_type"})

// Middleware rejects requests over the limit with 429. limitType is echoed in
// X-RateLimit-Limit-Type so clients can tell the limiters apart.
func Middleware(l Limiter, limitType string, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trustProxy)
			if l.Allow(ip) {
				next.ServeHTTP(w, r)
				return
			}

			logging.Warn("rate_limit_exceeded", map[string]any{
				"ip":         ip,
				"path":       r.URL.Path,
				"method":     r.Method,
				"limit_type": limitType,
			})
			rejected.WithLabelValues(limitType).Inc()

			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(l.RetryAfter(ip))))
			w.Header().Set("X-RateLimit-Limit-Type", limitType)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":    false,
				"error": "rate limit exceeded for " + limitType + " requests",
			})
		})
	}
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// ClientIP returns the address a request is attributed to. Forwarding
// headers are only honoured when trustProxy is set; otherwise any client
// could pick its own key. Behind a proxy, X-Real-IP wins, then the
// rightmost X-Forwarded-For entry, which is the one the proxy appended.
// Entries to its left are client supplied.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		if ip := lastForwardedFor(r.Header.Values("X-Forwarded-For")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func lastForwardedFor(values []string) string {
	for i := len(values) - 1; i >= 0; i-- {
		hops := strings.Split(values[i], ",")
		for j := len(hops) - 1; j >= 0; j-- {
			if ip := strings.TrimSpace(hops[j]); ip != "" {
				return ip
			}
		}
	}
	return ""
}
