// Package ratelimit implements the token bucket used to
// keep non-controller-visible errors from flooding the host log.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a simple token bucket: one token is added every Interval,
// up to Burst tokens banked. Allow reports whether a call is admitted
// and, on the first admitted call after a run of denials, how many
// calls were suppressed since the last admission.
//
// The zero value is not usable; construct with NewBucket.
type Bucket struct {
	mu sync.Mutex

	interval time.Duration
	burst    int

	tokens     int
	lastRefill time.Time
	suppressed int

	now func() time.Time
}

// NewBucket builds a Bucket that admits up to burst calls immediately,
// then refills at one token per interval. The typical budget named in
// the design notes is one admission per 5 seconds per call site:
// NewBucket(5*time.Second, 1).
func NewBucket(interval time.Duration, burst int) *Bucket {
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		interval:   interval,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow reports whether the caller may proceed, and the number of
// calls suppressed since the last admitted call (0 on every admission
// except possibly the first after a gap).
func (b *Bucket) Allow() (ok bool, suppressed int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.interval > 0 {
		elapsed := now.Sub(b.lastRefill)
		if add := int(elapsed / b.interval); add > 0 {
			b.tokens += add
			if b.tokens > b.burst {
				b.tokens = b.burst
			}
			b.lastRefill = b.lastRefill.Add(time.Duration(add) * b.interval)
		}
	}

	if b.tokens <= 0 {
		b.suppressed++
		return false, 0
	}

	b.tokens--
	suppressed = b.suppressed
	b.suppressed = 0
	return true, suppressed
}
