package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bladewing/XSS-Validator/internal/checker"
	"github.com/bladewing/XSS-Validator/internal/ratelimit"
	"github.com/bladewing/XSS-Validator/pkg/models"
)

type contextKey string

const checkIDKey contextKey = "check_id"

// CheckIDHeader carries the id of the check that served the request.
const CheckIDHeader = "X-Check-ID"

// CheckIDFromContext returns the id assigned by the check id middleware.
func CheckIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(checkIDKey).(string)
	return id
}

// checkIDMiddleware assigns every request a fresh id and echoes it in the response headers
func checkIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := checker.NewCheckID()
		w.Header().Set(CheckIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), checkIDKey, id)))
	})
}

// RateLimitMiddleware creates a middleware that enforces rate limits per client IP
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !limiter.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := getClientIP(r)

			// Check rate limit
			if !limiter.Allow(clientIP) {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.PerHour()))
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeJSON(w, http.StatusTooManyRequests, models.ErrorResponse{
					Message: "Rate limit exceeded. Maximum " + strconv.Itoa(limiter.PerHour()) + " checks per hour per client.",
					Error:   models.ErrorRateLimited,
				})
				return
			}

			// Add rate limit headers
			tokens := limiter.Tokens(clientIP)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.PerHour()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(tokens)))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client address from the connection
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// accessLogMiddleware logs one line per request
func accessLogMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logger.Info("Request served.",
				zap.String("check_id", CheckIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", getClientIP(r)),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// recoveryMiddleware turns handler panics into a 500 response
func recoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					logger.Error("Handler panicked.",
						zap.String("path", r.URL.Path),
						zap.Any("panic", p),
						zap.StackSkip("stack", 1))
					writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
						Message: "Error checking XSS: internal server error",
						Error:   models.ErrorInternal,
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", CheckIDHeader+", X-RateLimit-Limit, X-RateLimit-Remaining")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
