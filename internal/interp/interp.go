// Package interp computes render-time blend factors between two committed
// snapshots. Nothing here mutates a snapshot.
package interp

import (
	"math"

	"github.com/Route-Sim/VISTA-sub000/internal/sim"
)

// Frame is the read-only bracket handed to the view layer.
type Frame struct {
	TickA uint64
	TickB uint64
	Alpha float64
	A     *sim.Snapshot
	B     *sim.Snapshot
}

// Alpha returns clamp01((target-a)/(b-a)), or 0 when a and b coincide.
func Alpha(aMs, bMs, targetMs int64) float64 {
	if bMs == aMs {
		return 0
	}
	return clamp01(float64(targetMs-aMs) / float64(bMs-aMs))
}

// NewFrame builds a frame for the bracketing snapshots a (earlier) and b
// (later) at the requested render time.
func NewFrame(a, b *sim.Snapshot, targetMs int64) Frame {
	return Frame{
		TickA: a.Tick(),
		TickB: b.Tick(),
		Alpha: Alpha(a.TimeMs(), b.TimeMs(), targetMs),
		A:     a,
		B:     b,
	}
}

// Lerp blends two scalars.
func Lerp(a, b, alpha float64) float64 {
	return a + (b-a)*alpha
}

// AgentPosition blends an agent's world coordinates between the two ends of
// the frame. An agent present only in one snapshot is pinned there.
func (f Frame) AgentPosition(id sim.AgentID) (x, y float64, ok bool) {
	ax, ay, okA := f.A.AgentPosition(id)
	bx, by, okB := f.B.AgentPosition(id)
	switch {
	case okA && okB:
		return Lerp(ax, bx, f.Alpha), Lerp(ay, by, f.Alpha), true
	case okB:
		return bx, by, true
	case okA:
		return ax, ay, true
	default:
		return 0, 0, false
	}
}

// SimSeconds blends the virtual clock between both ends of the frame.
func (f Frame) SimSeconds() float64 {
	return Lerp(f.A.Clock().SimSeconds, f.B.Clock().SimSeconds, f.Alpha)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
