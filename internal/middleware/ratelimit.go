package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/repo-analyser/internal/auth"
)

// maxLimiters bounds the limiter map; past it the map is reset on the next
// sweep.
const maxLimiters = 10000

// RateLimiter is a per-caller token bucket. Authenticated requests are keyed
// on the user id, anonymous ones on the client address.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	logger   *slog.Logger
}

// NewRateLimiter allows perMinute requests per caller per minute, with bursts
// of the same size. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Inf,
		burst:    1,
		logger:   logger,
	}
	if perMinute > 0 {
		rl.rate = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = perMinute
	}
	return rl
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Handler rejects callers that exhausted their bucket with 429.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.rate == rate.Inf {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		l := rl.limiter(key)
		if !l.Allow() {
			rl.logger.Warn("rate limit exceeded",
				slog.String("key", key),
				slog.String("path", r.URL.Path),
			)
			retry := time.Duration(float64(time.Second) / float64(rl.rate))
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limited"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep drops every limiter once the map grows past maxLimiters.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > maxLimiters {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

func clientKey(r *http.Request) string {
	if c, ok := auth.CallerFromContext(r.Context()); ok {
		return "user:" + c.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
