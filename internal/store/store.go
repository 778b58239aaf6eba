// Package store turns the ordered signal stream into committed, immutable
// snapshots and answers interpolation queries over them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/Route-Sim/VISTA-sub000/internal/interp"
	"github.com/Route-Sim/VISTA-sub000/internal/journal"
	"github.com/Route-Sim/VISTA-sub000/internal/movement"
	"github.com/Route-Sim/VISTA-sub000/internal/net/proto"
	"github.com/Route-Sim/VISTA-sub000/internal/sim"
	"github.com/Route-Sim/VISTA-sub000/internal/subscribers"
	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
	"github.com/Route-Sim/VISTA-sub000/logging"
	"github.com/Route-Sim/VISTA-sub000/logging/simulation"
)

const resetReason = "timeline_reset"

// ErrStaleTick is returned when a tick boundary does not advance past the
// last committed tick.
var ErrStaleTick = errors.New("store: stale tick")

// Config controls history depth and reducer strictness.
type Config struct {
	History         int
	Strict          bool
	SpeedMultiplier float64
	Registry        *Registry
	Clock           clock.Clock
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
	Publisher       logging.Publisher
}

// Source delivers decoded signals. *client.Client satisfies it through
// Observe.
type Source interface {
	Observe(handler func(msg proto.Inbound)) func()
}

// Store owns the working draft and the snapshot history. Ingest is expected
// to be called from one goroutine; readers may call the query methods
// concurrently.
type Store struct {
	cfg      Config
	registry *Registry
	journal  *journal.Journal
	subs     subscribers.Set[func(*sim.Snapshot)]

	mu             sync.Mutex
	draft          *sim.Draft
	seenTickStart  bool
	lastTickTimeMs int64
	committed      bool
	lastTick       uint64
	lastTimeMs     int64
	lastStructural bool
	// dirty is set when a reducer changed the draft since the last commit.
	dirty bool
}

// New constructs an empty store.
func New(cfg Config) *Store {
	if cfg.History <= 0 {
		cfg.History = journal.DefaultCapacity
	}
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	return &Store{
		cfg:      cfg,
		registry: cfg.Registry,
		journal:  journal.New(cfg.History),
		draft:    sim.NewDraft(),
	}
}

// Attach feeds every signal from src into the store, stamped with the
// store clock. The returned func detaches it.
func (s *Store) Attach(src Source) func() {
	return src.Observe(func(msg proto.Inbound) {
		if err := s.Ingest(s.cfg.Clock.Now().UnixMilli(), msg); err != nil {
			s.cfg.Logger.Printf("store: %s: %v", msg.Signal, err)
		}
	})
}

// Ingest applies one signal observed at timeMs.
func (s *Store) Ingest(timeMs int64, msg proto.Inbound) error {
	var (
		commit *commitResult
		err    error
	)
	s.mu.Lock()
	switch msg.Signal {
	case proto.SignalTickStart:
		err = s.tickStartLocked(timeMs, msg)
	case proto.SignalTickEnd:
		commit, err = s.tickEndLocked(timeMs, msg)
	default:
		commit, err = s.reduceLocked(timeMs, msg)
	}
	s.mu.Unlock()

	if commit != nil {
		s.publishCommit(commit)
	}
	return err
}

func (s *Store) tickStartLocked(timeMs int64, msg proto.Inbound) error {
	data, ok := msg.Data.(*proto.TickStart)
	if !ok {
		return fmt.Errorf("store: tick.start carries %T", msg.Data)
	}
	var deltaMs int64
	if s.seenTickStart && timeMs > s.lastTickTimeMs {
		deltaMs = timeMs - s.lastTickTimeMs
	}
	if !s.seenTickStart || timeMs > s.lastTickTimeMs {
		s.lastTickTimeMs = timeMs
	}
	s.seenTickStart = true

	s.draft.Tick = data.Tick
	s.draft.TimeMs = timeMs
	s.draft.Clock.SimSeconds = data.Time
	s.draft.Clock.Day = data.Day
	movement.Advance(&s.draft.World, deltaMs, s.cfg.SpeedMultiplier)
	return nil
}

func (s *Store) tickEndLocked(timeMs int64, msg proto.Inbound) (*commitResult, error) {
	data, ok := msg.Data.(*proto.TickEnd)
	if !ok {
		return nil, fmt.Errorf("store: tick.end carries %T", msg.Data)
	}
	if s.committed && data.Tick <= s.lastTick {
		if data.Tick == s.lastTick && s.lastStructural {
			if !s.dirty {
				return nil, nil
			}
			return s.amendLocked(timeMs), nil
		}
		err := fmt.Errorf("%w: tick %d after %d", ErrStaleTick, data.Tick, s.lastTick)
		s.reportFailure(msg.Signal, data.Tick, err, false)
		return nil, err
	}
	return s.commitLocked(data.Tick, timeMs, false), nil
}

func (s *Store) reduceLocked(timeMs int64, msg proto.Inbound) (result *commitResult, err error) {
	reducer, structural, ok := s.registry.Lookup(msg.Signal)
	if !ok {
		return nil, nil
	}
	event := &Event{
		Signal: msg.Signal,
		Tick:   s.draft.Tick,
		TimeMs: timeMs,
		Data:   msg.Data,
		Strict: s.cfg.Strict,
	}

	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("store: reducer for %s panicked: %v", msg.Signal, r)
			}
		}()
		err = reducer(s.draft, event)
	}()
	if err != nil {
		s.reportFailure(msg.Signal, s.draft.Tick, err, panicked)
		return nil, err
	}

	for _, ref := range event.Synthesized() {
		s.cfg.Metrics.Add(telemetry.MetricEntitiesSynthesized, 1)
		simulation.EntitySynthesized(context.Background(), s.cfg.Publisher, s.draft.Tick, ref, simulation.EntitySynthesizedPayload{Signal: msg.Signal}, nil)
	}

	if !structural {
		s.dirty = true
		return nil, nil
	}
	s.draft.Topology++
	s.draft.TimeMs = timeMs
	s.cfg.Metrics.Add(telemetry.MetricTopologyResets, 1)
	counts := s.draft.World.Counts()
	simulation.TopologyReset(context.Background(), s.cfg.Publisher, s.draft.Tick, simulation.TopologyResetPayload{
		Signal:   msg.Signal,
		Topology: s.draft.Topology,
		Nodes:    counts.Nodes,
		Edges:    counts.Edges,
	}, nil)
	return s.commitLocked(s.draft.Tick, timeMs, true), nil
}

type commitResult struct {
	snapshot  *sim.Snapshot
	record    journal.RecordResult
	evictions int
}

// commitLocked freezes the draft into the history and thaws a fresh draft
// from the result. A structural commit that cannot advance the timeline
// clears the history first.
func (s *Store) commitLocked(tick uint64, timeMs int64, structural bool) *commitResult {
	evictions := 0
	if s.committed && tick <= s.lastTick {
		evictions = len(s.journal.Reset(resetReason))
		s.committed = false
	}
	if s.committed && timeMs < s.lastTimeMs {
		timeMs = s.lastTimeMs
	}

	snapshot := s.draft.Freeze(tick, timeMs)
	record := s.journal.Record(snapshot)
	s.committed = true
	s.lastTick = tick
	s.lastTimeMs = timeMs
	s.lastStructural = structural
	s.dirty = false
	s.draft = snapshot.Thaw()

	return &commitResult{
		snapshot:  snapshot,
		record:    record,
		evictions: evictions + len(record.Evicted),
	}
}

// amendLocked completes a tick that a structural signal committed early:
// the updates applied after the reset replace the reset snapshot.
func (s *Store) amendLocked(timeMs int64) *commitResult {
	if timeMs < s.lastTimeMs {
		timeMs = s.lastTimeMs
	}
	snapshot := s.draft.Freeze(s.lastTick, timeMs)
	record := s.journal.Amend(snapshot)
	s.lastTimeMs = timeMs
	s.lastStructural = false
	s.dirty = false
	s.draft = snapshot.Thaw()
	return &commitResult{snapshot: snapshot, record: record}
}

func (s *Store) publishCommit(commit *commitResult) {
	snap := commit.snapshot
	counts := snap.Counts()
	s.cfg.Metrics.Add(telemetry.MetricSnapshotsCommitted, 1)
	s.cfg.Metrics.Store(telemetry.MetricHistorySize, uint64(commit.record.Size))
	simulation.SnapshotCommitted(context.Background(), s.cfg.Publisher, snap.Tick(), simulation.SnapshotCommittedPayload{
		TimeMs:    snap.TimeMs(),
		Topology:  snap.Topology(),
		Agents:    counts.Agents,
		Packages:  counts.Packages,
		History:   commit.record.Size,
		Evictions: commit.evictions,
	}, nil)

	for _, fn := range s.subs.Snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.cfg.Logger.Printf("store: subscriber panicked on tick %d: %v", snap.Tick(), r)
				}
			}()
			fn(snap)
		}()
	}
}

func (s *Store) reportFailure(signal string, tick uint64, err error, panicked bool) {
	s.cfg.Metrics.Add(telemetry.MetricReducerFailures, 1)
	simulation.ReducerFailed(context.Background(), s.cfg.Publisher, tick, simulation.ReducerFailedPayload{
		Signal: signal,
		Error:  err.Error(),
		Panic:  panicked,
	}, nil)
}

// Subscribe registers fn for every commit.
func (s *Store) Subscribe(fn func(*sim.Snapshot)) func() {
	return s.subs.Add(fn)
}

// WorkingDraft returns the live draft. It is only safe to read from the
// goroutine calling Ingest; other goroutines use View.
func (s *Store) WorkingDraft() *sim.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// View runs fn with the draft while holding the ingest lock. fn must not
// retain the draft.
func (s *Store) View(fn func(draft *sim.Draft)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.draft)
}

// Latest returns the most recent commit.
func (s *Store) Latest() (*sim.Snapshot, bool) {
	return s.journal.Latest()
}

// History returns the retained commits oldest first.
func (s *Store) History() []*sim.Snapshot {
	return s.journal.Snapshots()
}

// ByTick returns the retained commit for tick.
func (s *Store) ByTick(tick uint64) (*sim.Snapshot, bool) {
	return s.journal.ByTick(tick)
}

// Interpolate brackets targetMs between two commits of the newest topology.
// It reports false until something has been committed.
func (s *Store) Interpolate(targetMs int64) (interp.Frame, bool) {
	latest, ok := s.journal.Latest()
	if !ok {
		return interp.Frame{}, false
	}
	a, b, ok := s.journal.Bracket(targetMs, latest.Topology())
	if !ok {
		return interp.Frame{}, false
	}
	return interp.NewFrame(a, b, targetMs), true
}
