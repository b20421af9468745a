package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client key. The map is bounded:
// when it outgrows maxClients the whole table is dropped, refilling buckets
// for everyone, which errs on the side of admitting traffic.
type clientLimiter struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	maxClients int
	clients    map[string]*rate.Limiter
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{
		limit:      limit,
		burst:      burst,
		maxClients: 4096,
		clients:    make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the client may proceed now.
func (l *clientLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= l.maxClients {
			l.clients = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients[key] = lim
	}
	return lim.Allow()
}
