package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiters is a per-key token bucket pool. Keys are user ids for
// authenticated traffic and client IPs otherwise. Entries unused for the
// TTL are evicted by a background sweep.
type Limiters struct {
	mu            sync.Mutex
	m             map[string]*limiterEntry
	rps           float64
	burst         int
	ttl           time.Duration
	cleanupPeriod time.Duration
	startCleanup  sync.Once
	stop          chan struct{}
	stopOnce      sync.Once
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// NewLimiters falls back to 100 rps with a burst of 100 when unset.
func NewLimiters(rps float64, burst int) *Limiters {
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 100
	}
	return &Limiters{
		m:             make(map[string]*limiterEntry),
		rps:           rps,
		burst:         burst,
		ttl:           10 * time.Minute,
		cleanupPeriod: time.Minute,
		stop:          make(chan struct{}),
	}
}

func (p *Limiters) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = time.Now()
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: time.Now()}
	return l
}

// Allow reports whether key may proceed now.
func (p *Limiters) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *Limiters) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *Limiters) sweep(now time.Time) {
	cutoff := now.Add(-p.ttl)
	p.mu.Lock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
	p.mu.Unlock()
}

func (p *Limiters) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			p.sweep(now)
		case <-p.stop:
			return
		}
	}
}

// Close stops the background sweep.
func (p *Limiters) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
}
