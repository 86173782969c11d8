package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// Prefixes restricts limiting to paths with one of these prefixes.
	// Empty limits every request.
	Prefixes []string
	// TrustedProxies lists the proxies allowed to report the client address
	// in X-Forwarded-For and X-Real-IP. Headers from anyone else are ignored.
	TrustedProxies []netip.Prefix
	// KeyFunc identifies the client; ClientIP with TrustedProxies by default.
	KeyFunc func(*http.Request) string
}

// window counts requests in the current and previous fixed windows; the
// previous one is weighted by its overlap with the sliding window.
type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		trusted := cfg.TrustedProxies
		cfg.KeyFunc = func(r *http.Request) string { return ClientIP(r, trusted) }
	}
	return &limiter{cfg: cfg, now: time.Now, windows: make(map[string]*window)}
}

// take records a request for key unless it is over the limit.
func (l *limiter) take(key string) (remaining int, reset time.Time, ok bool) {
	now := l.now()
	size := l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[key]
	if !found {
		w = &window{currStart: now.Truncate(size)}
		l.windows[key] = w
	}
	if elapsed := now.Sub(w.currStart); elapsed >= size {
		if elapsed >= 2*size {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.currStart = now.Truncate(size)
	}

	weight := 1 - now.Sub(w.currStart).Seconds()/size.Seconds()
	count := w.prev*math.Max(weight, 0) + w.curr
	reset = w.currStart.Add(size)
	if count >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	w.curr++
	return max(int(float64(l.cfg.Max)-count-1), 0), reset, true
}

// evict drops windows idle for two window lengths.
func (l *limiter) evict() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.currStart) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

func (l *limiter) applies(r *http.Request) bool {
	if len(l.cfg.Prefixes) == 0 {
		return true
	}
	for _, p := range l.cfg.Prefixes {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

// RateLimit limits requests per client. Over-limit requests get 429 with a
// Retry-After header. Stale clients are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		t := time.NewTicker(2 * cfg.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.evict()
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.applies(r) {
			next.ServeHTTP(w, r)
			return
		}
		remaining, reset, ok := l.take(l.cfg.KeyFunc(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			wait := math.Ceil(math.Max(reset.Sub(l.now()).Seconds(), 0))
			h.Set("Retry-After", strconv.Itoa(int(wait)))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the address of the client. Forwarding headers are only
// honored when the peer is one of trusted: X-Forwarded-For is read right to
// left and the first hop outside trusted wins, then X-Real-IP is used.
// Otherwise the remote address host is returned.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isTrusted(host, trusted) {
		return host
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		var leftmost string
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				// Garbage in the chain: stop at the last hop we could verify.
				break
			}
			leftmost = hop
			if !isTrusted(hop, trusted) {
				return hop
			}
		}
		if leftmost != "" {
			return leftmost
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		if _, err := netip.ParseAddr(ip); err == nil {
			return ip
		}
	}
	return host
}

func isTrusted(host string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParsePrefixes parses CIDRs or bare addresses into prefixes.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, errors.Wrapf(err, "parse prefix %q", v)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parse address %q", v)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
