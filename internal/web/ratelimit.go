package web

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	Max    int // requests per window and ip
	Window time.Duration
}

type limiterEntry struct {
	limiter *rate.Limiter
	start   time.Time
}

// RateLimiter allows Max requests per client ip in fixed windows of length Window. The first
// request of an ip opens its window with a bucket of Max tokens that is never refilled, the bucket
// is replaced once the window has passed.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	config  RateLimitConfig

	done  chan struct{}
	ostop sync.Once
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Max < 1 {
		cfg.Max = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	rl := &RateLimiter{
		entries: map[string]*limiterEntry{},
		config:  cfg,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow takes a token for the ip, when there is none it returns how long until its window ends
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	return rl.allowAt(ip, time.Now())
}

func (rl *RateLimiter) allowAt(ip string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[ip]
	if !ok || now.Sub(e.start) >= rl.config.Window {
		e = &limiterEntry{
			limiter: rate.NewLimiter(0, rl.config.Max),
			start:   now,
		}
		rl.entries[ip] = e
	}

	if e.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, e.start.Add(rl.config.Window).Sub(now)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := rl.Allow(clientIP(r))
		if !ok {
			secs := int(math.Ceil(retry.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			respond(w, http.StatusTooManyRequests, errorBody{
				Error:      "Rate limit exceeded",
				Message:    fmt.Sprintf("Too many email requests from this IP, please try again in %d seconds.", secs),
				RetryAfter: secs,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

func (rl *RateLimiter) Stop() {
	rl.ostop.Do(func() {
		close(rl.done)
	})
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.evict(time.Now())
		}
	}
}

// evict drops ips whose window has ended
func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, e := range rl.entries {
		if now.Sub(e.start) >= rl.config.Window {
			delete(rl.entries, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
