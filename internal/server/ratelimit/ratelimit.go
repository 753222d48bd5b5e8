// Package ratelimit applies per-client token bucket limits to the
// research API. Buckets refill continuously; idle buckets are reaped.
package ratelimit

import (
	"sync"
	"time"
)

// idleEviction is how long an untouched bucket survives cleanup.
const idleEviction = time.Hour

// tokenBucket refills continuously at rate tokens per second, up to
// capacity. lastAccess feeds the idle-bucket cleanup.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

func newTokenBucket(capacity int, rate float64) *tokenBucket {
	now := time.Now()
	return &tokenBucket{
		capacity:   float64(capacity),
		rate:       rate,
		tokens:     float64(capacity),
		lastRefill: now,
		lastAccess: now,
	}
}

// refill advances the bucket to now. Caller holds mu.
func (b *tokenBucket) refill(now time.Time) {
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// allow consumes one token if available.
func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refill(now)
	b.lastAccess = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// status reports the remaining whole tokens and when the bucket will be
// full again, without consuming anything.
func (b *tokenBucket) status() (remaining int, reset time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refill(now)

	remaining = int(b.tokens)
	reset = now
	if b.tokens < b.capacity {
		reset = now.Add(time.Duration((b.capacity - b.tokens) / b.rate * float64(time.Second)))
	}
	return remaining, reset
}

func (b *tokenBucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAccess.Before(cutoff)
}

// Info describes the limit decision for one request.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Config holds the limiter settings.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// Limiter keeps one bucket per client+endpoint+method key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	config  *Config
	ticker  *time.Ticker
	stop    chan struct{}
}

// NewLimiter creates a limiter; nil config means enabled with the
// global defaults and no endpoint overrides.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{
			Enabled:         true,
			DefaultLimit:    1000,
			DefaultWindow:   time.Minute,
			CleanupInterval: 5 * time.Minute,
		}
	}

	l := &Limiter{
		buckets: make(map[string]*tokenBucket),
		config:  config,
	}
	if config.Enabled && config.CleanupInterval > 0 {
		l.ticker = time.NewTicker(config.CleanupInterval)
		l.stop = make(chan struct{})
		go l.reapLoop()
	}
	return l
}

// Allow decides whether clientID may call the endpoint now. The Info
// carries the header values for the response either way.
func (l *Limiter) Allow(clientID string, endpoint string, method string) (bool, Info) {
	if !l.config.Enabled || l.config.Whitelist[clientID] {
		return true, Info{Allowed: true}
	}
	if l.config.Blacklist[clientID] {
		return false, Info{}
	}

	ec := MatchEndpoint(endpoint, method, l.config.EndpointConfigs)
	if ec == nil {
		ec = &EndpointConfig{
			Limit:  l.config.DefaultLimit,
			Window: l.config.DefaultWindow,
			Burst:  l.config.DefaultLimit,
		}
	}
	if ec.Limit <= 0 {
		// Unlimited, e.g. the health check.
		return true, Info{Allowed: true}
	}

	b := l.bucket(clientID+":"+endpoint+":"+method, ec)
	allowed := b.allow()
	remaining, reset := b.status()

	info := Info{Allowed: allowed, Limit: ec.Limit, Remaining: remaining, ResetTime: reset}
	if !allowed {
		if wait := time.Until(reset); wait > 0 {
			info.RetryAfter = wait
		}
	}
	return allowed, info
}

// bucket returns the bucket for key, creating it sized to the endpoint
// settings on first use.
func (l *Limiter) bucket(key string, ec *EndpointConfig) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}
	capacity := ec.Burst
	if capacity <= 0 {
		capacity = ec.Limit
	}
	b := newTokenBucket(capacity, float64(ec.Limit)/ec.Window.Seconds())
	l.buckets[key] = b
	return b
}

func (l *Limiter) reapLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.reap(time.Now().Add(-idleEviction))
		case <-l.stop:
			return
		}
	}
}

// reap drops buckets idle since before cutoff.
func (l *Limiter) reap(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.idleSince(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	if l.ticker != nil {
		l.ticker.Stop()
	}
	if l.stop != nil {
		close(l.stop)
	}
}
