package observability

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
)

// Counters keeps the latest value of every key in memory so the CLI can
// print a summary without a Prometheus scrape.
type Counters struct {
	mu     sync.RWMutex
	values map[string]*atomic.Uint64
	// last latency sample per key, stored as float64 bits
	latencies map[string]*atomic.Uint64
}

var _ telemetry.Metrics = (*Counters)(nil)

func NewCounters() *Counters {
	return &Counters{
		values:    make(map[string]*atomic.Uint64),
		latencies: make(map[string]*atomic.Uint64),
	}
}

func (c *Counters) slot(table map[string]*atomic.Uint64, key string) *atomic.Uint64 {
	c.mu.RLock()
	v, ok := table[key]
	c.mu.RUnlock()
	if ok {
		return v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok = table[key]; !ok {
		v = &atomic.Uint64{}
		table[key] = v
	}
	return v
}

func (c *Counters) Add(key string, delta uint64) {
	c.slot(c.values, key).Add(delta)
}

func (c *Counters) Store(key string, value uint64) {
	c.slot(c.values, key).Store(value)
}

func (c *Counters) Observe(key string, seconds float64) {
	c.slot(c.latencies, key).Store(math.Float64bits(seconds))
}

// Value returns the counter or gauge for key.
func (c *Counters) Value(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[key]; ok {
		return v.Load()
	}
	return 0
}

// LastLatency returns the most recent sample for key.
func (c *Counters) LastLatency(key string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.latencies[key]
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v.Load()), true
}

// Snapshot copies every counter and gauge.
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]uint64, len(c.values))
	for key, v := range c.values {
		out[key] = v.Load()
	}
	return out
}

// String renders the snapshot as sorted key=value pairs.
func (c *Counters) String() string {
	snapshot := c.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, snapshot[key]))
	}
	return strings.Join(parts, " ")
}

// Fanout records every sample into each of sinks.
func Fanout(sinks ...telemetry.Metrics) telemetry.Metrics {
	filtered := make(fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return filtered
}

type fanout []telemetry.Metrics

func (f fanout) Add(key string, delta uint64) {
	for _, m := range f {
		m.Add(key, delta)
	}
}

func (f fanout) Store(key string, value uint64) {
	for _, m := range f {
		m.Store(key, value)
	}
}

func (f fanout) Observe(key string, seconds float64) {
	for _, m := range f {
		m.Observe(key, seconds)
	}
}
