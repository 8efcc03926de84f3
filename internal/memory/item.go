package memory

import (
	"sync/atomic"
	"time"
)

// Item is the universal memory payload. Key is unique within a store;
// Timestamp is assigned monotonically on insert.
type Item struct {
	Key       string           `json:"key"`
	Content   Value            `json:"content"`
	Timestamp int64            `json:"timestamp"`
	Metadata  map[string]Value `json:"metadata,omitempty"`
}

// clock hands out monotonically increasing timestamps (unix nanos). Wall
// time can step backwards under NTP; the counter never does.
type clock struct {
	last atomic.Int64
}

// Next returns a timestamp strictly greater than every previous one.
func (c *clock) Next() int64 {
	for {
		now := time.Now().UnixNano()
		last := c.last.Load()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Observe advances the clock past a timestamp loaded from disk.
func (c *clock) Observe(ts int64) {
	for {
		last := c.last.Load()
		if ts <= last || c.last.CompareAndSwap(last, ts) {
			return
		}
	}
}
