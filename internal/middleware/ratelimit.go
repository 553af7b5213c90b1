package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

const pruneThreshold = 4096

// RateLimit caps how many requests a caller may make per window. Generation
// starts are keyed by the authenticated user so one household NAT cannot
// starve its neighbors; anonymous traffic falls back to the client IP.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	windows := make(map[string]*window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiterKey(r)
			now := time.Now()

			mu.Lock()
			if len(windows) > pruneThreshold {
				for k, win := range windows {
					if now.After(win.resetAt) {
						delete(windows, k)
					}
				}
			}
			win, ok := windows[key]
			if !ok || now.After(win.resetAt) {
				win = &window{resetAt: now.Add(per)}
				windows[key] = win
			}
			if win.count >= limit {
				retryAfter := win.resetAt.Sub(now)
				mu.Unlock()
				writeRateLimited(w, retryAfter)
				return
			}
			win.count++
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate_limited","message":"too many generation requests, slow down"}`))
}

// limiterKey prefers the authenticated user identity and falls back to the
// client IP for unauthenticated requests.
func limiterKey(r *http.Request) string {
	if uid := UserIDFromContext(r.Context()); uid != "" {
		return "u:" + uid
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
