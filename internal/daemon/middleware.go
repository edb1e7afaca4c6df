package daemon

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"reelvault/internal/logging"
	"reelvault/internal/metrics"
	"reelvault/internal/services"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 64
	limiterClients     = 1024
	limiterIdleTTL     = 10 * time.Minute
)

// requestID tags the request context with the caller's X-Request-ID, or a
// fresh uuid, and echoes it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

// observe records request metrics by chi route pattern and logs the outcome.
func observe(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			elapsed := time.Since(start)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			reqLogger := logging.WithContext(r.Context(), logger)
			attrs := []logging.Attr{
				logging.String("method", r.Method),
				logging.String("route", route),
				logging.Int("status", status),
				logging.Int("bytes", ww.BytesWritten()),
				logging.Duration("duration", elapsed),
			}
			switch {
			case status >= http.StatusInternalServerError:
				logging.WarnWithContext(reqLogger, "request failed", "http_request_failed",
					append(attrs,
						logging.String(logging.FieldErrorHint, "see preceding error for the failing operation"),
						logging.String(logging.FieldImpact, "client received a server error"),
					)...,
				)
			case r.Method == http.MethodGet || r.Method == http.MethodHead:
				reqLogger.Debug("request served", logging.Args(attrs...)...)
			default:
				reqLogger.Info("request served", logging.Args(attrs...)...)
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// uploadLimiter throttles uploads per client address with a token bucket per
// address. Idle buckets age out of the cache.
type uploadLimiter struct {
	limit      rate.Limit
	burst      int
	retryAfter int

	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// newUploadLimiter returns nil when perMinute <= 0.
func newUploadLimiter(perMinute, burst int) *uploadLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &uploadLimiter{
		limit:      rate.Every(time.Minute / time.Duration(perMinute)),
		burst:      burst,
		retryAfter: int(math.Ceil(60 / float64(perMinute))),
		clients:    expirable.NewLRU[string, *rate.Limiter](limiterClients, nil, limiterIdleTTL),
	}
}

func (l *uploadLimiter) allow(client string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding refreshes the idle TTL.
	l.clients.Add(client, lim)
	l.mu.Unlock()
	return lim.Allow()
}

func (l *uploadLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientAddress(r)) {
			metrics.UploadsThrottledTotal.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter))
			writeJSON(w, http.StatusTooManyRequests, errorBody("upload rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
