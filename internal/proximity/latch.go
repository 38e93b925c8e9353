package proximity

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Latch records which proximity groupings have already been notified.
// Entries expire after a cooldown, so a grouping may notify again once the
// pets separate for long enough and memory stays bounded.
type Latch struct {
	entries cmap.ConcurrentMap[string, time.Time]
	ttl     time.Duration
}

// NewLatch creates a latch with the given cooldown.
func NewLatch(ttl time.Duration) *Latch {
	return &Latch{
		entries: cmap.New[time.Time](),
		ttl:     ttl,
	}
}

// FirstSeen reports whether the grouping key is new (or expired) and marks
// it seen. A true result means the caller should notify.
func (l *Latch) FirstSeen(key string) bool {
	now := time.Now()
	seenAt, ok := l.entries.Get(key)
	if ok && now.Sub(seenAt) < l.ttl {
		return false
	}
	l.entries.Set(key, now)
	return true
}

// Prune drops expired entries. Called from the periodic sweep.
func (l *Latch) Prune() {
	now := time.Now()
	var expired []string
	for item := range l.entries.IterBuffered() {
		if now.Sub(item.Val) >= l.ttl {
			expired = append(expired, item.Key)
		}
	}
	for _, key := range expired {
		l.entries.Remove(key)
	}
}

// Len returns the number of latched groupings.
func (l *Latch) Len() int {
	return l.entries.Count()
}
