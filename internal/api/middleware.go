package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

const requestIDHeader = "X-Request-Id"

type Middleware func(http.Handler) http.Handler

func chain(h http.Handler, m ...Middleware) http.Handler {
	// Apply in reverse so chain(h, a, b) becomes a(b(h)).
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func requestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusCapturingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func withAccessLog(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingResponseWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			logger.Info().
				Str("request_id", requestIDFromContext(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Int64("bytes", sw.bytes).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("http request")
		})
	}
}

func withRecover(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Interface("panic", rec).
						Str("request_id", requestIDFromContext(r.Context())).
						Msg("panic in handler")
					writeError(w, http.StatusInternalServerError, "internal", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func withBodyLimit(limitBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiter applies a token bucket per client address. Visitors idle
// longer than idleTTL are swept, and the table never holds more than
// maxVisitors entries.
type clientLimiter struct {
	rps          rate.Limit
	burst        int
	trustForward bool
	idleTTL      time.Duration
	maxVisitors  int
	now          func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	visitorIdleTTL     = 10 * time.Minute
	maxTrackedVisitors = 10000
)

func newClientLimiter(rps float64, burst int, trustForward bool, now func() time.Time) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	if now == nil {
		now = time.Now
	}
	return &clientLimiter{
		rps:          rate.Limit(rps),
		burst:        burst,
		trustForward: trustForward,
		idleTTL:      visitorIdleTTL,
		maxVisitors:  maxTrackedVisitors,
		now:          now,
		visitors:     map[string]*visitor{},
		lastSweep:    now(),
	}
}

func (cl *clientLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cl.limiter(clientKey(r, cl.trustForward)).Allow() {
				writeError(w, http.StatusTooManyRequests, "rate-limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (cl *clientLimiter) limiter(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := cl.now()
	if now.Sub(cl.lastSweep) >= cl.idleTTL {
		cl.sweepLocked(now)
	}

	v, ok := cl.visitors[key]
	if !ok {
		if len(cl.visitors) >= cl.maxVisitors {
			cl.sweepLocked(now)
		}
		if len(cl.visitors) >= cl.maxVisitors {
			cl.evictOldestLocked()
		}
		v = &visitor{limiter: rate.NewLimiter(cl.rps, cl.burst)}
		cl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (cl *clientLimiter) sweepLocked(now time.Time) {
	for key, v := range cl.visitors {
		if now.Sub(v.lastSeen) > cl.idleTTL {
			delete(cl.visitors, key)
		}
	}
	cl.lastSweep = now
}

func (cl *clientLimiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, v := range cl.visitors {
		if oldestKey == "" || v.lastSeen.Before(oldest) {
			oldestKey, oldest = key, v.lastSeen
		}
	}
	delete(cl.visitors, oldestKey)
}

func (cl *clientLimiter) tracked() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.visitors)
}

// clientKey identifies the caller. X-Forwarded-For is honoured only behind
// a trusted proxy.
func clientKey(r *http.Request, trustForward bool) string {
	if trustForward {
		if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
			parts := strings.Split(ip, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
