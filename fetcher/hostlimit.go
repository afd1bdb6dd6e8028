package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const hostLimiterIdle = time.Hour

type hostEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// hostLimiter spaces out requests to the same target host. Idle hosts are
// pruned periodically.
type hostLimiter struct {
	mu    sync.Mutex
	hosts map[string]*hostEntry
	rate  rate.Limit
	burst int

	done     chan struct{}
	stopOnce sync.Once
}

// newHostLimiter returns nil when rps is not positive.
func newHostLimiter(rps float64, burst int) *hostLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	hl := &hostLimiter{
		hosts: make(map[string]*hostEntry),
		rate:  rate.Limit(rps),
		burst: burst,
		done:  make(chan struct{}),
	}
	go hl.cleanupLoop()
	return hl
}

// Wait blocks until host may be contacted again or ctx ends. It returns
// how long it waited.
func (hl *hostLimiter) Wait(ctx context.Context, host string) (time.Duration, error) {
	if hl == nil || host == "" {
		return 0, nil
	}
	host = strings.ToLower(host)

	hl.mu.Lock()
	e, ok := hl.hosts[host]
	if !ok {
		e = &hostEntry{limiter: rate.NewLimiter(hl.rate, hl.burst)}
		hl.hosts[host] = e
	}
	e.lastUsed = time.Now()
	hl.mu.Unlock()

	start := time.Now()
	err := e.limiter.Wait(ctx)
	return time.Since(start), err
}

func (hl *hostLimiter) Len() int {
	if hl == nil {
		return 0
	}
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return len(hl.hosts)
}

func (hl *hostLimiter) Stop() {
	if hl == nil {
		return
	}
	hl.stopOnce.Do(func() { close(hl.done) })
}

func (hl *hostLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-hl.done:
			return
		case <-ticker.C:
			hl.prune(time.Now())
		}
	}
}

func (hl *hostLimiter) prune(now time.Time) {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	for host, e := range hl.hosts {
		if now.Sub(e.lastUsed) > hostLimiterIdle {
			delete(hl.hosts, host)
		}
	}
}
