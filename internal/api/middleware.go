package api

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/AlexZinkM/paygate/internal/metrics"
	"github.com/AlexZinkM/paygate/internal/model"
)

// RateLimiter keeps one token bucket per client. Idle buckets expire.
type RateLimiter struct {
	perMinute int
	burst     int
	visitors  *cache.Cache
}

// NewRateLimiter allows perMinute requests per client with a burst of the same size.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &RateLimiter{
		perMinute: perMinute,
		burst:     perMinute,
		visitors:  cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Middleware rejects clients over their budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(clientID(r)).Allow() {
			writeJSON(w, http.StatusTooManyRequests, model.ErrorResponse{
				Success: false, Error: "rate limit exceeded", Code: "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiter(id string) *rate.Limiter {
	if v, ok := l.visitors.Get(id); ok {
		l.visitors.SetDefault(id, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)
	if err := l.visitors.Add(id, lim, cache.DefaultExpiration); err != nil {
		// Lost a race with another request from the same client.
		if v, ok := l.visitors.Get(id); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireToken guards routes with a static bearer token. An empty token disables the
// check.
func RequireToken(token string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				log.Warn("admin request rejected", "path", r.URL.Path, "client", clientID(r))
				writeJSON(w, http.StatusUnauthorized, model.ErrorResponse{
					Success: false, Error: "missing or invalid admin token", Code: "unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Observe records request latency by route pattern and logs each request.
func Observe(m *metrics.Metrics, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			m.ObserveRequest(route, strconv.Itoa(rec.status), elapsed)
			log.Debug("request served", "method", r.Method, "route", route, "status", rec.status,
				"duration_ms", elapsed.Milliseconds())
		})
	}
}
