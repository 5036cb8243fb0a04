package handlers

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// RateLimiter admits or throttles a caller key, returning the retry delay on refusal.
type RateLimiter interface {
	Admit(key string) (bool, time.Duration)
}

// throttled reports whether the request was refused for scope, writing the 429
// response (with Retry-After) when it was.
func throttled(ctx context.Context, w http.ResponseWriter, r *http.Request, limiter RateLimiter, scope string) bool {
	if limiter == nil {
		return false
	}
	ip := clientIP(r)
	ok, wait := limiter.Admit(scope + ":" + ip)
	if ok {
		return false
	}
	secs := int(math.Ceil(wait.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	respondError(ctx, w, http.StatusTooManyRequests, detailTooManyRequests)
	return true
}

// clientIP prefers the first X-Forwarded-For hop when it parses as an address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.String()
		}
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		return host
	}
	return remote
}
