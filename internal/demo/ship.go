// Package demo supplies the one concrete game cmd/server and cmd/client
// both link against: a Ship class, an InputApplier for it, and a small
// Euler physics stepper. Both binaries must agree on exactly what an
// action means and how an object moves, since the server's authoritative
// step and a client's predicted step are the same simulation run twice.
package demo

import (
	"math"

	"netcode/core"
	"netcode/serialize"
	"netcode/sim"
	"netcode/world"
)

// ShipClass is the serialize.Registry class name every Ship object is
// registered and decoded under.
const ShipClass = "Ship"

// NewRegistry returns a Registry with Ship registered, ready to hand to
// a transmit.Transmitter, a Server Authority, or a Client Engine.
func NewRegistry() *serialize.Registry {
	r := serialize.NewRegistry()
	r.Register(ShipClass, world.NewPhysicalObject2D(ShipClass).Scheme(), func() serialize.Instance {
		return world.NewPhysicalObject2D(ShipClass)
	})
	return r
}

// NewShip builds an unregistered Ship object; callers add it to a World
// via sim.Engine.AddObject.
func NewShip() *world.PhysicalObject2D {
	return world.NewPhysicalObject2D(ShipClass)
}

const (
	thrustSpeed = 120.0 // units/sec a thrusting ship's velocity is set to
	turnRate    = 3.0   // radians/sec while turning
	drag        = 0.6   // fraction of velocity lost per second
)

// ApplyInput is the sim.InputApplier for Ship objects: "left"/"right" set
// an angular velocity physics integrates every step, "thrust" steers the
// ship's velocity toward its current heading at thrustSpeed.
func ApplyInput(obj world.GameObject, input sim.Input) {
	ship, ok := obj.(*world.PhysicalObject2D)
	if !ok {
		return
	}

	switch {
	case input.Actions["left"]:
		ship.AngularVelocity = -turnRate
	case input.Actions["right"]:
		ship.AngularVelocity = turnRate
	default:
		ship.AngularVelocity = 0
	}

	if input.Actions["thrust"] {
		heading := core.Vector2{X: math.Cos(ship.Angle), Y: math.Sin(ship.Angle)}
		ship.Velocity.X = heading.X * thrustSpeed
		ship.Velocity.Y = heading.Y * thrustSpeed
	}
}

// Physics is a minimal Euler integrator satisfying sim.Physics: it
// advances every PhysicalObject2D in w by its own velocity/angular
// velocity, with drag decaying velocity by (1-drag)^dt each step. It stands
// in for the real physics engine spec.md puts out of scope.
type Physics struct {
	World *world.World
}

// NewPhysics constructs a Physics stepper over w.
func NewPhysics(w *world.World) *Physics {
	return &Physics{World: w}
}

func (p *Physics) Step(dtSeconds float64, filter func(world.GameObject) bool) {
	p.World.ForEach(func(obj world.GameObject) bool {
		if !filter(obj) {
			return true
		}
		ship, ok := obj.(*world.PhysicalObject2D)
		if !ok {
			return true
		}
		ship.Position.X += ship.Velocity.X * dtSeconds
		ship.Position.Y += ship.Velocity.Y * dtSeconds
		ship.Angle += ship.AngularVelocity * dtSeconds

		decay := math.Pow(1-drag, dtSeconds)
		ship.Velocity.X *= decay
		ship.Velocity.Y *= decay
		return true
	})
}
