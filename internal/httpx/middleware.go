package httpx

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-grocery-orders/internal/auth"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

type TokenVerifier interface {
	Verify(raw string) (auth.Principal, error)
}

type principalKey struct{}

func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

// RequireAuth accepts the session from the "token" cookie or a Bearer header.
func RequireAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing session token"})
				return
			}
			p, err := v.Verify(raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "invalid session token"})
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, p)
			ctx = orders.WithTraceID(ctx, middleware.GetReqID(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(role orders.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			if p.Role != role {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "requires role " + string(role)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

// ---------- Rate limiter per-IP ----------

type ipLimiter struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	last    time.Time
}

// IPLimiter keeps one token bucket per client IP in process memory; each
// replica limits independently.
type IPLimiter struct {
	rps     rate.Limit
	burst   int
	idle    time.Duration
	entries sync.Map // map[string]*ipLimiter
	now     func() time.Time
}

func NewIPLimiter(rps float64, burst int) *IPLimiter {
	return &IPLimiter{rps: rate.Limit(rps), burst: burst, idle: 30 * time.Minute, now: time.Now}
}

func (l *IPLimiter) Allow(ip string) bool {
	now := l.now()
	v, _ := l.entries.LoadOrStore(ip, &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst), last: now})
	e := v.(*ipLimiter)
	e.mu.Lock()
	e.last = now
	e.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Sweep drops limiters that have been idle longer than the idle window.
func (l *IPLimiter) Sweep() {
	now := l.now()
	l.entries.Range(func(key, val any) bool {
		e := val.(*ipLimiter)
		e.mu.Lock()
		idle := now.Sub(e.last) > l.idle
		e.mu.Unlock()
		if idle {
			l.entries.Delete(key)
		}
		return true
	})
}

// RunCleanup sweeps every interval until ctx is done.
func (l *IPLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(remoteIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many orders, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteIP relies on middleware.RealIP having already rewritten RemoteAddr.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
