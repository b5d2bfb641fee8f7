// Package dedup remembers recently handled message keys for a bounded time.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type entry struct {
	key string
	exp time.Time
}

type Deduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	now   func() time.Time
	seen  map[string]time.Time
	order []entry // insertion order, oldest first
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 256
	}
	return &Deduper{ttl: ttl, max: max, now: time.Now, seen: make(map[string]time.Time, max)}
}

// WithClock replaces the time source; used by tests.
func (d *Deduper) WithClock(now func() time.Time) *Deduper {
	d.now = now
	return d
}

// Key digests a payload into a map key.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Seen reports whether id was remembered and has not expired.
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.seen[id]
	return ok && d.now().Before(exp)
}

// Remember records id, refreshing its expiry if already present.
func (d *Deduper) Remember(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remember(id, d.now())
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) remember(id string, now time.Time) {
	exp := now.Add(d.ttl)
	d.seen[id] = exp
	d.order = append(d.order, entry{key: id, exp: exp})
	d.evict(now)
}

// evict drops expired entries and then the oldest ones until within max.
// Stale order entries (superseded by a refresh) are skipped.
func (d *Deduper) evict(now time.Time) {
	i := 0
	for ; i < len(d.order); i++ {
		e := d.order[i]
		cur, ok := d.seen[e.key]
		if !ok || !cur.Equal(e.exp) {
			continue
		}
		if now.Before(e.exp) && len(d.seen) <= d.max {
			break
		}
		delete(d.seen, e.key)
	}
	d.order = append(d.order[:0], d.order[i:]...)
}
