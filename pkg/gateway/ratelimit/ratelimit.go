// Package ratelimit budgets gateway traffic per caller: a token bucket paces requests,
// and two slot pools cap in-flight requests and block uploads. State lives in this
// process only.
package ratelimit

import (
	"encoding/hex"
	"math"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

const (
	defaultMaxCallers = 10_000
	defaultIdleAfter  = 30 * time.Minute
	anonymous         = "anonymous"
)

type Config struct {
	// RPS and Burst configure the request bucket. Either one at zero disables pacing.
	RPS   float64
	Burst int

	// Zero leaves the pool uncapped.
	MaxConcurrentRequests int
	MaxConcurrentUploads  int

	// MaxEntries bounds how many callers are tracked. Callers idle for EntryTTL are
	// forgotten first.
	MaxEntries int
	EntryTTL   time.Duration
}

// Limiter tracks one budget per caller key.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	callers map[string]*caller
}

type caller struct {
	bucket   bucket
	requests slots
	uploads  slots
	seen     time.Time // guarded by Limiter.mu
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxCallers
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = defaultIdleAfter
	}
	return &Limiter{cfg: cfg, callers: make(map[string]*caller)}
}

// PrincipalKeyFromAPIKey and PrincipalKeyFromIP derive caller keys that never contain
// the key or address itself.
func PrincipalKeyFromAPIKey(apiKey string) string { return "k_" + fingerprint(apiKey) }

func PrincipalKeyFromIP(ip string) string { return "ip_" + fingerprint(ip) }

func fingerprint(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// Permit holds a slot until released. Release is safe to call more than once.
type Permit struct {
	once sync.Once
	free func()
}

func (p *Permit) Release() {
	if p == nil || p.free == nil {
		return
	}
	p.once.Do(p.free)
}

// Decision is the outcome of an acquire. RetryAfter is in whole seconds.
type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

func deny(retryAfter int) Decision {
	return Decision{RetryAfter: max(1, retryAfter)}
}

// AcquireRequest spends a bucket token and takes a request slot.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	c := l.lookup(principal, now)
	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if wait, ok := c.bucket.take(now, l.cfg.RPS, float64(l.cfg.Burst)); !ok {
			return deny(int(math.Ceil(wait.Seconds())))
		}
	}
	return c.requests.acquire()
}

// AcquireUpload takes an upload slot. Uploads pass through AcquireRequest as well.
func (l *Limiter) AcquireUpload(principal string, now time.Time) Decision {
	return l.lookup(principal, now).uploads.acquire()
}

func (l *Limiter) lookup(principal string, now time.Time) *caller {
	if principal == "" {
		principal = anonymous
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.callers[principal]; ok {
		c.seen = now
		return c
	}
	if len(l.callers) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}
	c := &caller{
		requests: newSlots(l.cfg.MaxConcurrentRequests),
		uploads:  newSlots(l.cfg.MaxConcurrentUploads),
		seen:     now,
	}
	l.callers[principal] = c
	return c
}

// evictLocked forgets idle callers, or the least recently seen one when none is idle.
func (l *Limiter) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, c := range l.callers {
		if now.Sub(c.seen) > l.cfg.EntryTTL {
			delete(l.callers, k)
			continue
		}
		if oldestKey == "" || c.seen.Before(oldest) {
			oldestKey, oldest = k, c.seen
		}
	}
	if len(l.callers) >= l.cfg.MaxEntries && oldestKey != "" {
		delete(l.callers, oldestKey)
	}
}

// bucket starts full and refills at rate tokens per second up to size.
type bucket struct {
	mu      sync.Mutex
	primed  bool
	tokens  float64
	updated time.Time
}

func (b *bucket) take(now time.Time, rate, size float64) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.primed {
		b.primed, b.tokens, b.updated = true, size, now
	}
	if dt := now.Sub(b.updated); dt > 0 {
		b.tokens = math.Min(size, b.tokens+dt.Seconds()*rate)
		b.updated = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	return time.Duration((1 - b.tokens) / rate * float64(time.Second)), false
}

// slots is a non-blocking counting semaphore. A nil channel means uncapped.
type slots chan struct{}

func newSlots(limit int) slots {
	if limit <= 0 {
		return nil
	}
	return make(slots, limit)
}

func (s slots) acquire() Decision {
	if s == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	select {
	case s <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{free: func() { <-s }}}
	default:
		return deny(1)
	}
}
