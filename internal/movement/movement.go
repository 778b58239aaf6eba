// Package movement dead-reckons agents along their current edge between
// authoritative ticks so the view does not stutter while waiting for the
// next server update.
package movement

import (
	"math"

	"github.com/Route-Sim/VISTA-sub000/internal/sim"
)

const metresPerKm = 1000.0
const msPerHour = 3_600_000.0

// RatePerMs converts a speed in km/h into metres per millisecond.
func RatePerMs(speedKph float64) float64 {
	return speedKph * metresPerKm / msPerHour
}

// Advance moves every agent located on an edge with positive speed forward by
// speed*deltaMs*multiplier, clamped to [0, edge length]. Agents never leave
// their edge here; crossing a node is left to the server. It returns the
// number of agents whose progress changed.
func Advance(world *sim.World, deltaMs int64, multiplier float64) int {
	if world == nil || deltaMs <= 0 || multiplier <= 0 || math.IsNaN(multiplier) {
		return 0
	}

	moved := 0
	for id, agent := range world.Agents {
		if !agent.Location.IsOnEdge() || agent.SpeedKph <= 0 {
			continue
		}
		length, ok := world.EdgeLength(agent.Location.Edge)
		if !ok || length <= 0 {
			continue
		}

		step := RatePerMs(agent.SpeedKph) * float64(deltaMs) * multiplier
		next := Clamp(agent.Location.ProgressM+step, 0, length)
		if next == agent.Location.ProgressM {
			continue
		}
		agent.Location.ProgressM = next
		world.Agents[id] = agent
		moved++
	}
	return moved
}

// Clamp restricts value to [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
