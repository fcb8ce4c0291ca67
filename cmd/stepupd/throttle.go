package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/stepup"
	"github.com/MrEthical07/stepup/middleware"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// throttle applies a token bucket per client IP.
type throttle struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

func newThrottle(perSecond float64, burst int) *throttle {
	return &throttle{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (t *throttle) allow(ip string) bool {
	now := t.now()

	t.mu.Lock()
	c, ok := t.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[ip] = c
	}
	c.lastSeen = now
	t.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// prune drops limiters idle longer than t.idle and returns how many remain.
func (t *throttle) prune() int {
	cutoff := t.now().Add(-t.idle)

	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, c := range t.clients {
		if c.lastSeen.Before(cutoff) {
			delete(t.clients, ip)
		}
	}
	return len(t.clients)
}

func (t *throttle) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(middleware.ClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error: stepup.ErrRateLimited.Error(),
				Kind:  stepup.KindRateLimited.String(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
