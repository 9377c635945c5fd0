package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter admits at most limit requests per client in any sliding
// window. A client is the verified trader of the request, or the peer
// address for everything else.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow records a request of client and reports whether it is admitted.
// A refused request also returns how long until the oldest one expires.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	seen := prune(rl.clients[client], now.Add(-rl.window))
	if len(seen) >= rl.limit {
		rl.clients[client] = seen
		return false, seen[0].Add(rl.window).Sub(now)
	}
	rl.clients[client] = append(seen, now)
	return true, 0
}

// prune drops the timestamps at or before cutoff, reusing the slice.
func prune(seen []time.Time, cutoff time.Time) []time.Time {
	kept := seen[:0]
	for _, t := range seen {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.forgetIdle()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) forgetIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.window)
	for client, seen := range rl.clients {
		if kept := prune(seen, cutoff); len(kept) > 0 {
			rl.clients[client] = kept
		} else {
			delete(rl.clients, client)
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Allow(clientKey(r))
		if !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if who := identityFrom(r.Context()); who.verified {
		return "trader:" + who.trader
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
