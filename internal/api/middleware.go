package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
)

// allowList matches IPv4 addresses against exact addresses and CIDR ranges.
type allowList []netip.Prefix

func parseAllowList(rules []string) (allowList, error) {
	if len(rules) == 0 {
		rules = []string{"127.0.0.1"}
	}
	return parsePrefixes("allow list", rules)
}

func parsePrefixes(what string, rules []string) (allowList, error) {
	out := make(allowList, 0, len(rules))
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" {
			return nil, fmt.Errorf("%s: empty entry", what)
		}
		if strings.Contains(r, "/") {
			p, err := netip.ParsePrefix(r)
			if err != nil || !p.Addr().Unmap().Is4() {
				return nil, fmt.Errorf("%s: bad CIDR %q", what, r)
			}
			out = append(out, netip.PrefixFrom(p.Addr().Unmap(), p.Bits()).Masked())
			continue
		}
		a, err := netip.ParseAddr(r)
		if err != nil || !a.Unmap().Is4() {
			return nil, fmt.Errorf("%s: bad IPv4 %q", what, r)
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), 32))
	}
	return out, nil
}

func (l allowList) allows(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	for _, p := range l {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP is the socket peer, or the first X-Forwarded-For hop when the peer is a
// trusted proxy. Only IPv4 (or v4-mapped) is accepted.
func clientIP(r *http.Request, trusted allowList) netip.Addr {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	ip := parseIPv4(peer)
	if !trusted.allows(ip) {
		return ip
	}
	if hop := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0]); hop != "" {
		return parseIPv4(hop)
	}
	return ip
}

func parseIPv4(s string) netip.Addr {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}
	}
	a = a.Unmap()
	if !a.Is4() {
		return netip.Addr{}
	}
	return a
}

type ipLimiter struct {
	mu    sync.Mutex
	per   rate.Limit
	burst int
	byIP  *lru.Cache[netip.Addr, *rate.Limiter]
}

func newIPLimiter(perSec float64, burst int) *ipLimiter {
	c, _ := lru.New[netip.Addr, *rate.Limiter](8192)
	return &ipLimiter{per: rate.Limit(perSec), burst: burst, byIP: c}
}

func (l *ipLimiter) allow(ip netip.Addr) bool {
	if l == nil || l.per <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.byIP.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.per, l.burst)
		l.byIP.Add(ip, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

type ctxKey int

const requestIDKey ctxKey = iota

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	code   string
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// endpointName trims the route prefix for metric labels.
func endpointName(path string) string {
	p := strings.TrimPrefix(path, "/api/bsc/")
	p = strings.TrimPrefix(p, "/api/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "root"
	}
	return p
}

// middleware runs request id, allow list, rate limit, metrics and the request log around next.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ip := clientIP(r, s.trusted)

		defer func() {
			if p := recover(); p != nil {
				s.log.Error("handler panic", zap.Any("panic", p), zap.String("path", r.URL.Path))
				s.writeError(rec, endpointName(r.URL.Path), &apiError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "internal error"})
			}
			ep := endpointName(r.URL.Path)
			metrics.APIRequests.WithLabelValues(ep, strconv.Itoa(rec.status)).Inc()
			s.reqLog.Info("request",
				zap.String("id", id),
				zap.String("method", r.Method),
				zap.String("url", r.URL.String()),
				zap.String("ip", ip.String()),
				zap.String("endpoint", ep),
				zap.Int("status", rec.status),
				zap.String("code", rec.code),
				zap.Duration("took", time.Since(start)))
		}()

		if !s.allow.allows(ip) {
			s.writeError(rec, endpointName(r.URL.Path), (&apiError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "source ip not allowed"}).with("ip", ip.String()))
			return
		}
		if !s.limiter.allow(ip) {
			s.writeError(rec, endpointName(r.URL.Path), &apiError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "too many requests"})
			return
		}
		next.ServeHTTP(rec, r)
	})
}
