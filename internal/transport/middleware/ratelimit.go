package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal"
	"golang.org/x/time/rate"
)

var errTooManyAttempts = &internal.AppError{
	Type:       internal.ErrorTypeValidation,
	Code:       "RATE_LIMITED",
	Message:    "Too many login attempts, try again later",
	StatusCode: http.StatusTooManyRequests,
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles credential submissions per client address. The
// address is the connection's peer; forwarding headers are read only when the
// peer is a trusted proxy.
type LoginLimiter struct {
	perMinute int
	trusted   []netip.Prefix
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type LimiterOption func(*LoginLimiter)

// WithTrustedProxies lets the listed proxies name the client through
// X-Forwarded-For or X-Real-IP.
func WithTrustedProxies(prefixes ...netip.Prefix) LimiterOption {
	return func(l *LoginLimiter) {
		l.trusted = append(l.trusted, prefixes...)
	}
}

func NewLoginLimiter(perMinute int, opts ...LimiterOption) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	l := &LoginLimiter{
		perMinute: perMinute,
		now:       time.Now,
		clients:   map[string]*clientLimiter{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ParseTrustedProxies accepts CIDR ranges and single addresses.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

func (l *LoginLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiterFor(l.clientKey(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			status, body := errTooManyAttempts.ToHTTPResponse()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *LoginLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if c, ok := l.clients[ip]; ok {
		c.lastSeen = now
		return c.limiter
	}

	l.gcLocked(now)
	c := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute),
		lastSeen: now,
	}
	l.clients[ip] = c
	return c.limiter
}

func (l *LoginLimiter) gcLocked(now time.Time) {
	if len(l.clients) < 1000 {
		return
	}
	cutoff := now.Add(-10 * time.Minute)
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// clientKey names the client a request is throttled under.
func (l *LoginLimiter) clientKey(r *http.Request) string {
	peer := clientIP(r)
	if !l.isTrusted(peer) {
		return peer
	}

	// walk the chain from the nearest hop, skipping our own proxies
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !l.isTrusted(hop) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

func (l *LoginLimiter) isTrusted(ip string) bool {
	if len(l.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the peer address of the connection, without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}
