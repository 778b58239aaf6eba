package journal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Route-Sim/VISTA-sub000/internal/sim"
)

// DefaultCapacity is the number of committed snapshots retained when the
// caller does not configure a history size.
const DefaultCapacity = 64

const reasonCapacity = "capacity"

// Eviction describes a snapshot dropped from the buffer and why.
type Eviction struct {
	Tick   uint64 `json:"tick"`
	TimeMs int64  `json:"timeMs"`
	Reason string `json:"reason,omitempty"`
}

// RecordResult reports buffer state after storing a snapshot.
type RecordResult struct {
	Size       int        `json:"size"`
	OldestTick uint64     `json:"oldestTick"`
	NewestTick uint64     `json:"newestTick"`
	Evicted    []Eviction `json:"evicted,omitempty"`
}

// Journal keeps a rolling FIFO of committed snapshots ordered by tick and
// observation time. Entries are frozen and never modified after Record.
type Journal struct {
	mu        sync.RWMutex
	frames    []*sim.Snapshot
	maxFrames int
}

// New constructs a journal retaining at most capacity snapshots. A
// non-positive capacity selects DefaultCapacity.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{
		frames:    make([]*sim.Snapshot, 0, capacity),
		maxFrames: capacity,
	}
}

// Capacity returns the fixed retention bound.
func (j *Journal) Capacity() int {
	return j.maxFrames
}

// Record appends a snapshot, evicting the oldest entries once the buffer is
// full. Committing a snapshot whose tick does not advance, or whose time goes
// backwards, is a programming error and panics.
func (j *Journal) Record(snap *sim.Snapshot) RecordResult {
	if snap == nil {
		panic("journal: record nil snapshot")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if n := len(j.frames); n > 0 {
		last := j.frames[n-1]
		if snap.Tick() <= last.Tick() {
			panic(fmt.Sprintf("journal: non-monotonic tick %d after %d", snap.Tick(), last.Tick()))
		}
		if snap.TimeMs() < last.TimeMs() {
			panic(fmt.Sprintf("journal: time %dms precedes %dms", snap.TimeMs(), last.TimeMs()))
		}
	}

	j.frames = append(j.frames, snap)

	result := RecordResult{}
	if len(j.frames) > j.maxFrames {
		overflow := len(j.frames) - j.maxFrames
		for i := 0; i < overflow; i++ {
			frame := j.frames[i]
			result.Evicted = append(result.Evicted, Eviction{
				Tick:   frame.Tick(),
				TimeMs: frame.TimeMs(),
				Reason: reasonCapacity,
			})
			j.frames[i] = nil
		}
		copy(j.frames, j.frames[overflow:])
		j.frames = j.frames[:len(j.frames)-overflow]
	}

	result.Size = len(j.frames)
	result.OldestTick = j.frames[0].Tick()
	result.NewestTick = j.frames[len(j.frames)-1].Tick()
	return result
}

// Amend replaces the newest snapshot with snap, which must carry the same
// tick and must not precede it in time.
func (j *Journal) Amend(snap *sim.Snapshot) RecordResult {
	if snap == nil {
		panic("journal: amend nil snapshot")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.frames)
	if n == 0 {
		panic("journal: amend on empty journal")
	}
	last := j.frames[n-1]
	if snap.Tick() != last.Tick() {
		panic(fmt.Sprintf("journal: amend tick %d over %d", snap.Tick(), last.Tick()))
	}
	if snap.TimeMs() < last.TimeMs() {
		panic(fmt.Sprintf("journal: amend time %dms precedes %dms", snap.TimeMs(), last.TimeMs()))
	}
	j.frames[n-1] = snap
	return RecordResult{
		Size:       n,
		OldestTick: j.frames[0].Tick(),
		NewestTick: snap.Tick(),
	}
}

// Reset drops every retained snapshot and reports them as evictions. The
// next Record starts a new timeline with no ordering constraint.
func (j *Journal) Reset(reason string) []Eviction {
	j.mu.Lock()
	defer j.mu.Unlock()
	evicted := make([]Eviction, 0, len(j.frames))
	for i, frame := range j.frames {
		evicted = append(evicted, Eviction{Tick: frame.Tick(), TimeMs: frame.TimeMs(), Reason: reason})
		j.frames[i] = nil
	}
	j.frames = j.frames[:0]
	return evicted
}

// Snapshots exposes the buffer contents in chronological order.
func (j *Journal) Snapshots() []*sim.Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.frames) == 0 {
		return nil
	}
	frames := make([]*sim.Snapshot, len(j.frames))
	copy(frames, j.frames)
	return frames
}

// Len returns the number of retained snapshots.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.frames)
}

// Latest returns the most recently recorded snapshot.
func (j *Journal) Latest() (*sim.Snapshot, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.frames) == 0 {
		return nil, false
	}
	return j.frames[len(j.frames)-1], true
}

// ByTick returns the snapshot committed at the given tick.
func (j *Journal) ByTick(tick uint64) (*sim.Snapshot, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	idx := sort.Search(len(j.frames), func(i int) bool {
		return j.frames[i].Tick() >= tick
	})
	if idx < len(j.frames) && j.frames[idx].Tick() == tick {
		return j.frames[idx], true
	}
	return nil, false
}

// Window reports the buffer size and the oldest/newest retained ticks.
func (j *Journal) Window() (size int, oldest, newest uint64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	size = len(j.frames)
	if size == 0 {
		return 0, 0, 0
	}
	return size, j.frames[0].Tick(), j.frames[size-1].Tick()
}

// Bracket locates the pair of snapshots of the given topology generation
// whose observation times straddle targetMs. Targets before the first or
// after the last entry resolve to the nearest pair; a single matching entry
// is returned as both ends.
func (j *Journal) Bracket(targetMs int64, topology uint64) (a, b *sim.Snapshot, ok bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	start := sort.Search(len(j.frames), func(i int) bool {
		return j.frames[i].Topology() >= topology
	})
	end := sort.Search(len(j.frames), func(i int) bool {
		return j.frames[i].Topology() > topology
	})
	window := j.frames[start:end]

	switch len(window) {
	case 0:
		return nil, nil, false
	case 1:
		return window[0], window[0], true
	}

	// First entry strictly after the target; its predecessor is the lower bound.
	upper := sort.Search(len(window), func(i int) bool {
		return window[i].TimeMs() > targetMs
	})
	switch {
	case upper == 0:
		return window[0], window[1], true
	case upper >= len(window):
		return window[len(window)-2], window[len(window)-1], true
	default:
		return window[upper-1], window[upper], true
	}
}
