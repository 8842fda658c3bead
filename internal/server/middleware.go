package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// withAuth enforces bearer-token auth on /api/v1 routes when an API key is
// configured. /health stays open for probes.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIKey)) != 1 {
			s.count("server.unauthorized")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientLimiter pairs a token bucket with its last use, for pruning.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var limiterIdleTTL = 10 * time.Minute

// withRateLimit applies a per-client token bucket keyed by remote IP.
// Disabled when rate_rps is 0.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.cfg.RateRPS <= 0 {
		return next
	}

	var mu sync.Mutex
	clients := make(map[string]*clientLimiter)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		mu.Lock()
		cl, ok := clients[host]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(s.cfg.RateRPS), s.cfg.RateBurst)}
			clients[host] = cl
		}
		cl.lastSeen = time.Now()
		if len(clients) > 1024 {
			for k, c := range clients {
				if time.Since(c.lastSeen) > limiterIdleTTL {
					delete(clients, k)
				}
			}
		}
		mu.Unlock()

		if !cl.limiter.Allow() {
			s.count("server.rate_limited")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLog logs each request with method, path, status, and duration.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.count("server.requests")
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) count(name string) {
	if s.reg != nil {
		s.reg.Inc(name)
	}
}
