// Package telemetry holds the most recent servo telemetry so status queries
// never wait on the bus.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/gripper/pkg/sts"
)

// Snapshot is a sample plus when it was captured.
type Snapshot struct {
	Sample     sts.Sample
	CapturedAt time.Time
	Seq        uint64 // 1 for the first update, +1 per update
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Cache keeps the last complete sample. Update replaces it atomically, so a
// reader sees either the old or the new snapshot, never a mix.
type Cache struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{now: time.Now}
}

// Update stores a complete sample and returns the resulting snapshot.
func (c *Cache) Update(sample sts.Sample) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var seq uint64 = 1
	if prev := c.current.Load(); prev != nil {
		seq = prev.Seq + 1
	}

	snap := &Snapshot{
		Sample:     sample,
		CapturedAt: c.now(),
		Seq:        seq,
	}
	c.current.Store(snap)
	return *snap
}

// Read returns the last snapshot. ok is false until the first Update.
func (c *Cache) Read() (Snapshot, bool) {
	snap := c.current.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}
