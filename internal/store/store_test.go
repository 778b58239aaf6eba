package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Route-Sim/VISTA-sub000/internal/net/proto"
	"github.com/Route-Sim/VISTA-sub000/internal/sim"
	"github.com/Route-Sim/VISTA-sub000/logging"
	"github.com/Route-Sim/VISTA-sub000/logging/simulation"
)

const roadMap = `{"signal":"map.created","data":{
	"nodes":[{"id":"n1","x":0,"y":0},{"id":"n2","x":1000,"y":0}],
	"edges":[{"id":"e1","from":"n1","to":"n2"}],
	"buildings":[{"id":"b1","kind":"depot","node_id":"n1","capacity":4}]}}`

func decode(t *testing.T, frame string) proto.Inbound {
	t.Helper()
	msg, err := proto.DecodeInbound([]byte(frame))
	if err != nil {
		t.Fatalf("decode %s: %v", frame, err)
	}
	return msg
}

func ingest(t *testing.T, s *Store, timeMs int64, frame string) {
	t.Helper()
	if err := s.Ingest(timeMs, decode(t, frame)); err != nil {
		t.Fatalf("ingest %s: %v", frame, err)
	}
}

func tickStart(tick uint64) string {
	return fmt.Sprintf(`{"signal":"tick.start","data":{"tick":%d,"time":%d}}`, tick, tick)
}

func tickEnd(tick uint64) string {
	return fmt.Sprintf(`{"signal":"tick.end","data":{"tick":%d}}`, tick)
}

// truckOnEdge is a 36 km/h truck, which covers 0.01 m per millisecond.
const truckOnEdge = `{"signal":"agent.created","data":{"id":"a1","kind":"truck","current_edge":"e1","edge_progress_m":0,"current_speed_kph":36}}`

func progress(t *testing.T, s *Store, id sim.AgentID) float64 {
	t.Helper()
	agent, ok := s.WorkingDraft().World.Agents[id]
	if !ok {
		t.Fatalf("agent %s missing from draft", id)
	}
	return agent.Location.ProgressM
}

type eventLog struct {
	mu     sync.Mutex
	events []logging.Event
}

func (l *eventLog) Publish(_ context.Context, event logging.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) ofType(eventType logging.EventType) []logging.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logging.Event
	for _, event := range l.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func TestInterpolateHalfwayBetweenTicks(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 900, roadMap)
	ingest(t, s, 1000, tickStart(1))
	ingest(t, s, 1000, truckOnEdge)
	ingest(t, s, 1000, tickEnd(1))
	ingest(t, s, 1100, tickStart(2))
	ingest(t, s, 1100, tickEnd(2))

	frame, ok := s.Interpolate(1050)
	if !ok {
		t.Fatalf("expected a frame")
	}
	if frame.TickA != 1 || frame.TickB != 2 {
		t.Fatalf("expected bracket (1,2), got (%d,%d)", frame.TickA, frame.TickB)
	}
	if frame.Alpha != 0.5 {
		t.Fatalf("expected alpha 0.5, got %v", frame.Alpha)
	}
	x, _, ok := frame.AgentPosition("a1")
	if !ok || math.Abs(x-0.5) > 1e-9 {
		t.Fatalf("expected agent halfway through the first metre, got x=%v ok=%v", x, ok)
	}

	for _, target := range []int64{0, 1000, 1100, 5000} {
		frame, _ := s.Interpolate(target)
		if frame.Alpha < 0 || frame.Alpha > 1 {
			t.Fatalf("alpha %v out of range for target %d", frame.Alpha, target)
		}
	}
}

func TestFirstTickDoesNotExtrapolate(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 0, roadMap)
	ingest(t, s, 0, truckOnEdge)
	ingest(t, s, 50_000, tickStart(1))
	if got := progress(t, s, "a1"); got != 0 {
		t.Fatalf("first tick must not move agents, progress=%v", got)
	}
}

func TestZeroDeltaTickStartIsIdempotent(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 900, roadMap)
	ingest(t, s, 1000, tickStart(1))
	ingest(t, s, 1000, truckOnEdge)
	ingest(t, s, 1200, tickStart(2))
	before := progress(t, s, "a1")
	if math.Abs(before-2) > 1e-9 {
		t.Fatalf("expected 2m after 200ms, got %v", before)
	}

	ingest(t, s, 1200, tickStart(2))
	if after := progress(t, s, "a1"); after != before {
		t.Fatalf("re-ingesting tick.start moved the agent from %v to %v", before, after)
	}
	// an out-of-order timestamp never moves agents backwards
	ingest(t, s, 1100, tickStart(2))
	if after := progress(t, s, "a1"); after != before {
		t.Fatalf("time regression moved the agent from %v to %v", before, after)
	}
}

func TestProgressClampedToEdgeLength(t *testing.T) {
	s := New(Config{SpeedMultiplier: 10})
	ingest(t, s, 0, roadMap)
	ingest(t, s, 0, tickStart(1))
	ingest(t, s, 0, truckOnEdge)
	ingest(t, s, 60_000, tickStart(2))
	if got := progress(t, s, "a1"); got != 1000 {
		t.Fatalf("expected progress clamped to 1000m, got %v", got)
	}
}

func TestStructuralResetCommitsImmediately(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 900, roadMap)
	ingest(t, s, 1000, tickStart(1))
	ingest(t, s, 1000, tickEnd(1))
	ingest(t, s, 1100, tickStart(2))
	ingest(t, s, 1100, tickEnd(2))
	oldTopology := s.WorkingDraft().Topology

	ingest(t, s, 1200, tickStart(3))
	ingest(t, s, 1250, `{"signal":"map.created","data":{"nodes":[{"id":"m1","x":5,"y":5}],"edges":[]}}`)

	latest, ok := s.Latest()
	if !ok || latest.Tick() != 3 {
		t.Fatalf("expected immediate commit at tick 3, got %v", latest)
	}
	if latest.Topology() == oldTopology {
		t.Fatalf("expected topology generation to advance")
	}
	if _, ok := latest.Node("n1"); ok {
		t.Fatalf("old topology leaked into the reset snapshot")
	}

	frame, ok := s.Interpolate(1150)
	if !ok {
		t.Fatalf("expected a frame after reset")
	}
	if frame.A.Topology() != latest.Topology() || frame.B.Topology() != latest.Topology() {
		t.Fatalf("frame brackets across topologies: %d and %d", frame.A.Topology(), frame.B.Topology())
	}
	if frame.TickA != 3 || frame.TickB != 3 || frame.Alpha != 0 {
		t.Fatalf("expected degenerate frame at tick 3, got %+v", frame)
	}

	// tick.end for the structurally committed tick adds nothing
	ingest(t, s, 1300, tickEnd(3))
	if len(s.History()) != 4 {
		t.Fatalf("expected 4 commits, got %d", len(s.History()))
	}

	ingest(t, s, 1400, tickStart(4))
	ingest(t, s, 1400, tickEnd(4))
	frame, _ = s.Interpolate(1325)
	if frame.TickA != 3 || frame.TickB != 4 || frame.Alpha != 0.5 {
		t.Fatalf("expected bracket (3,4) at 0.5, got (%d,%d) %v", frame.TickA, frame.TickB, frame.Alpha)
	}
}

func TestTickEndAfterStructuralResetKeepsLaterUpdates(t *testing.T) {
	s := New(Config{})
	var committed []*sim.Snapshot
	s.Subscribe(func(snap *sim.Snapshot) { committed = append(committed, snap) })

	ingest(t, s, 1000, tickStart(1))
	ingest(t, s, 1000, tickEnd(1))
	ingest(t, s, 1100, tickStart(2))
	ingest(t, s, 1120, roadMap)
	ingest(t, s, 1130, truckOnEdge)
	ingest(t, s, 1150, tickEnd(2))

	latest, ok := s.Latest()
	if !ok || latest.Tick() != 2 || latest.TimeMs() != 1150 {
		t.Fatalf("expected tick 2 committed at 1150ms, got %v", latest)
	}
	if _, ok := latest.Agent("a1"); !ok {
		t.Fatalf("agent created after the reset is missing from the tick commit")
	}
	if _, ok := latest.Node("n1"); !ok {
		t.Fatalf("reset topology missing from the tick commit")
	}
	if history := s.History(); len(history) != 2 {
		t.Fatalf("expected the reset snapshot replaced, got %d commits", len(history))
	}
	if len(committed) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(committed))
	}
	if committed[1].Topology() != committed[2].Topology() {
		t.Fatalf("amended commit changed topology %d -> %d", committed[1].Topology(), committed[2].Topology())
	}
	if _, ok := committed[1].Agent("a1"); ok {
		t.Fatalf("reset snapshot must stay frozen")
	}

	// a repeated tick.end is stale once the tick is complete
	if err := s.Ingest(1160, decode(t, tickEnd(2))); !errors.Is(err, ErrStaleTick) {
		t.Fatalf("expected ErrStaleTick, got %v", err)
	}

	ingest(t, s, 1200, tickStart(3))
	ingest(t, s, 1200, tickEnd(3))
	if latest, _ := s.Latest(); latest.Tick() != 3 {
		t.Fatalf("expected tick 3, got %d", latest.Tick())
	}
}

func TestStateSnapshotAfterServerRestartStartsNewTimeline(t *testing.T) {
	events := &eventLog{}
	s := New(Config{Publisher: events})
	ingest(t, s, 900, roadMap)
	ingest(t, s, 1000, tickStart(10))
	ingest(t, s, 1000, tickEnd(10))

	ingest(t, s, 2000, `{"signal":"state.snapshot","data":{
		"nodes":[{"id":"n1","x":0,"y":0},{"id":"n2","x":0,"y":300}],
		"edges":[{"id":"e1","from":"n1","to":"n2"}],
		"tick":0,"time":0,"tick_rate":5,"running":true,"paused":false,
		"agents":[{"id":"a9","kind":"truck","current_edge":"e1","edge_progress_m":500,"current_speed_kph":10}],
		"packages":[{"id":"p1","status":"in_transit","carrier":"a9"}]}}`)

	history := s.History()
	if len(history) != 1 || history[0].Tick() != 0 {
		t.Fatalf("expected a fresh timeline at tick 0, got %d entries", len(history))
	}
	snap := history[0]
	if simClock := snap.Clock(); !simClock.Running || simClock.TickRate != 5 {
		t.Fatalf("unexpected clock %+v", simClock)
	}
	agent, ok := snap.Agent("a9")
	if !ok || agent.Location.ProgressM != 300 {
		t.Fatalf("expected progress clamped to derived edge length 300, got %+v", agent)
	}
	if pkg, ok := snap.Package("p1"); !ok || pkg.Status != sim.PackageInTransit {
		t.Fatalf("unexpected package %+v", pkg)
	}

	resets := events.ofType(simulation.EventTopologyReset)
	if len(resets) != 2 {
		t.Fatalf("expected 2 topology resets, got %d", len(resets))
	}
	commits := events.ofType(simulation.EventSnapshotCommitted)
	last := commits[len(commits)-1].Payload.(simulation.SnapshotCommittedPayload)
	if last.Evictions != 2 {
		t.Fatalf("expected the old timeline to be evicted, got %+v", last)
	}
}

func TestStaleTickEndIsRejected(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 1000, tickStart(5))
	ingest(t, s, 1000, tickEnd(5))

	err := s.Ingest(1100, decode(t, tickEnd(4)))
	if !errors.Is(err, ErrStaleTick) {
		t.Fatalf("expected ErrStaleTick, got %v", err)
	}
	if latest, _ := s.Latest(); latest.Tick() != 5 {
		t.Fatalf("stale tick must not commit")
	}
}

func TestCommitOrderingInvariant(t *testing.T) {
	s := New(Config{History: 8})
	times := []int64{1000, 1100, 1050, 1200}
	for i, at := range times {
		tick := uint64(i + 1)
		ingest(t, s, at, tickStart(tick))
		ingest(t, s, at, tickEnd(tick))
	}
	history := s.History()
	for i := 1; i < len(history); i++ {
		if history[i].Tick() <= history[i-1].Tick() {
			t.Fatalf("ticks not strictly increasing at %d", i)
		}
		if history[i].TimeMs() < history[i-1].TimeMs() {
			t.Fatalf("time went backwards at %d: %d < %d", i, history[i].TimeMs(), history[i-1].TimeMs())
		}
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := New(Config{History: 2})
	for tick := uint64(1); tick <= 5; tick++ {
		ingest(t, s, int64(tick)*100, tickStart(tick))
		ingest(t, s, int64(tick)*100, tickEnd(tick))
	}
	history := s.History()
	if len(history) != 2 || history[0].Tick() != 4 {
		t.Fatalf("expected ticks 4 and 5 retained, got %d entries", len(history))
	}
	if _, ok := s.ByTick(1); ok {
		t.Fatalf("tick 1 should have been evicted")
	}
}

func TestSubscribersSeeEveryCommit(t *testing.T) {
	s := New(Config{})
	var ticks []uint64
	detach := s.Subscribe(func(snap *sim.Snapshot) { ticks = append(ticks, snap.Tick()) })
	s.Subscribe(func(*sim.Snapshot) { panic("subscriber bug") })

	ingest(t, s, 100, tickStart(1))
	ingest(t, s, 100, tickEnd(1))
	ingest(t, s, 200, roadMap)
	detach()
	ingest(t, s, 300, tickStart(2))
	ingest(t, s, 300, tickEnd(2))

	if len(ticks) != 2 || ticks[0] != 1 || ticks[1] != 1 {
		t.Fatalf("unexpected notifications %v", ticks)
	}
}

func TestCommittedSnapshotsAreIsolatedFromDraft(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 0, roadMap)
	ingest(t, s, 100, tickStart(1))
	ingest(t, s, 100, truckOnEdge)
	ingest(t, s, 100, tickEnd(1))
	committed, _ := s.Latest()

	ingest(t, s, 200, tickStart(2))
	ingest(t, s, 200, `{"signal":"agent.updated","data":{"id":"a1","current_node":"n2","tags":{"load":"full"}}}`)

	agent, _ := committed.Agent("a1")
	if !agent.Location.IsOnEdge() || agent.Tags != nil {
		t.Fatalf("draft mutation leaked into committed snapshot: %+v", agent)
	}
}

func TestLenientModeSynthesizesUnknownEntities(t *testing.T) {
	events := &eventLog{}
	s := New(Config{Publisher: events})
	ingest(t, s, 0, tickStart(1))
	ingest(t, s, 0, `{"signal":"agent.updated","data":{"id":"ghost","current_speed_kph":12}}`)
	ingest(t, s, 0, `{"signal":"building.updated","data":{"id":"b9","capacity":2}}`)

	agent, ok := s.WorkingDraft().World.Agents["ghost"]
	if !ok || agent.Kind != sim.AgentKindUnknown || agent.SpeedKph != 12 {
		t.Fatalf("expected synthesized agent, got %+v ok=%v", agent, ok)
	}
	synthesized := events.ofType(simulation.EventEntitySynthesized)
	if len(synthesized) != 2 || synthesized[0].Actor.ID != "ghost" || synthesized[1].Actor.Kind != logging.EntityKindBuilding {
		t.Fatalf("unexpected synthesis events %+v", synthesized)
	}
}

func TestStrictModeRejectsUnknownEntities(t *testing.T) {
	events := &eventLog{}
	s := New(Config{Strict: true, Publisher: events})
	ingest(t, s, 0, tickStart(1))

	for _, frame := range []string{
		`{"signal":"agent.updated","data":{"id":"ghost"}}`,
		`{"signal":"agent.deleted","data":{"id":"ghost"}}`,
		`{"signal":"package.delivered","data":{"id":"p404"}}`,
	} {
		if err := s.Ingest(0, decode(t, frame)); !errors.Is(err, ErrUnknownEntity) {
			t.Fatalf("%s: expected ErrUnknownEntity, got %v", frame, err)
		}
	}
	if len(s.WorkingDraft().World.Agents) != 0 {
		t.Fatalf("strict mode must not synthesize")
	}
	if got := len(events.ofType(simulation.EventReducerFailed)); got != 3 {
		t.Fatalf("expected 3 reducer failures, got %d", got)
	}

	// ticks keep flowing after rejected events
	ingest(t, s, 100, tickEnd(1))
	if _, ok := s.Latest(); !ok {
		t.Fatalf("expected tick 1 committed")
	}
}

func TestReducerPanicIsRecovered(t *testing.T) {
	registry := DefaultRegistry()
	registry.Register(proto.SignalBuildingUpdated, func(*sim.Draft, *Event) error { panic("bad reducer") })
	events := &eventLog{}
	s := New(Config{Registry: registry, Publisher: events})

	ingest(t, s, 0, tickStart(1))
	err := s.Ingest(0, decode(t, `{"signal":"building.updated","data":{"id":"b1"}}`))
	if err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
	failures := events.ofType(simulation.EventReducerFailed)
	if len(failures) != 1 || !failures[0].Payload.(simulation.ReducerFailedPayload).Panic {
		t.Fatalf("expected a panic failure event, got %+v", failures)
	}
	ingest(t, s, 100, tickEnd(1))
	if latest, ok := s.Latest(); !ok || latest.Tick() != 1 {
		t.Fatalf("expected tick to commit after a reducer panic")
	}
}

func TestPackageLifecycle(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 0, roadMap)
	ingest(t, s, 0, tickStart(1))
	ingest(t, s, 0, `{"signal":"package.created","data":{"id":"p1","origin":"b1","destination":"b2","priority":2}}`)
	ingest(t, s, 0, `{"signal":"agent.created","data":{"id":"a1","kind":"truck","current_node":"n1","cargo":["p1","p2"]}}`)
	ingest(t, s, 0, `{"signal":"package.updated","data":{"id":"p1","status":"in_transit","carrier":"a1"}}`)
	ingest(t, s, 0, `{"signal":"package.delivered","data":{"id":"p1"}}`)

	world := s.WorkingDraft().World
	pkg := world.Packages["p1"]
	if pkg.Status != sim.PackageDelivered || pkg.Carrier != "" || pkg.CreatedTick != 1 {
		t.Fatalf("unexpected package %+v", pkg)
	}
	if cargo := world.Agents["a1"].Cargo; len(cargo) != 1 || cargo[0] != "p2" {
		t.Fatalf("expected p1 removed from cargo, got %v", cargo)
	}

	ingest(t, s, 0, `{"signal":"building.updated","data":{"id":"b1","occupants":["a1"]}}`)
	ingest(t, s, 0, `{"signal":"agent.deleted","data":{"id":"a1"}}`)
	world = s.WorkingDraft().World
	if _, ok := world.Agents["a1"]; ok {
		t.Fatalf("agent should be deleted")
	}
	if occupants := world.Buildings["b1"].Occupants; len(occupants) != 0 {
		t.Fatalf("deleted agent still occupies b1: %v", occupants)
	}
}

func TestSimulationLifecycleUpdatesClock(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 0, `{"signal":"simulation.started","data":{"tick_rate":20}}`)
	ingest(t, s, 0, `{"signal":"simulation.paused","data":{}}`)
	simClock := s.WorkingDraft().Clock
	if !simClock.Running || !simClock.Paused || simClock.TickRate != 20 {
		t.Fatalf("unexpected clock after pause %+v", simClock)
	}
	ingest(t, s, 0, `{"signal":"simulation.resumed"}`)
	ingest(t, s, 0, `{"signal":"tick_rate.updated","data":{"tick_rate":40}}`)
	ingest(t, s, 0, `{"signal":"simulation.stopped","data":null}`)
	simClock = s.WorkingDraft().Clock
	if simClock.Running || simClock.Paused || simClock.TickRate != 40 {
		t.Fatalf("unexpected clock after stop %+v", simClock)
	}
}

func TestSignalsWithoutReducerAreIgnored(t *testing.T) {
	s := New(Config{})
	if err := s.Ingest(0, decode(t, `{"signal":"error","data":{"message":"boom"}}`)); err != nil {
		t.Fatalf("expected error signal to be ignored, got %v", err)
	}
	if _, ok := s.Interpolate(0); ok {
		t.Fatalf("no frame expected before the first commit")
	}
}

type fakeSource struct {
	handler func(proto.Inbound)
}

func (f *fakeSource) Observe(handler func(proto.Inbound)) func() {
	f.handler = handler
	return func() { f.handler = nil }
}

func TestAttachStampsWithClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(5000))
	s := New(Config{Clock: mock})
	src := &fakeSource{}
	detach := s.Attach(src)

	src.handler(decode(t, tickStart(1)))
	src.handler(decode(t, tickEnd(1)))
	latest, ok := s.Latest()
	if !ok || latest.TimeMs() != 5000 {
		t.Fatalf("expected commit stamped at 5000ms, got %+v", latest)
	}
	detach()
	if src.handler != nil {
		t.Fatalf("detach should unregister the observer")
	}
}

func TestViewHoldsDraft(t *testing.T) {
	s := New(Config{})
	ingest(t, s, 0, roadMap)
	var nodes int
	s.View(func(draft *sim.Draft) { nodes = len(draft.World.Nodes) })
	if nodes != 2 {
		t.Fatalf("expected 2 nodes, got %d", nodes)
	}
}
