package strategy

import (
	"netcode/serialize"
	"netcode/sim"
	"netcode/world"
)

// Extrapolate is the full client-side prediction strategy: the local
// player's object is simulated ahead of the server using its own input,
// and each server correction is replayed against whichever of that
// player's inputs the server had not yet acknowledged, clamped to
// MaxReEnactSteps, with the visible difference bent in instead of
// snapped.
type Extrapolate struct {
	*Base

	bendingIncrements int
	maxReEnactSteps   int
	localPercent      float64
}

// NewExtrapolate builds an Extrapolate strategy. localPercent/remotePercent
// are spec.md's localObjBending/remoteObjBending (defaulting to 0.1/0.6):
// a server correction to the local player's own object is smoothed in
// much more gently than a correction to another player's object, since
// the local object is usually already close thanks to prediction.
func NewExtrapolate(w *world.World, engine *sim.Engine, registry *serialize.Registry, localPlayerID uint32, bendingIncrements, maxReEnactSteps int, localPercent, remotePercent float64) *Extrapolate {
	s := &Extrapolate{bendingIncrements: bendingIncrements, maxReEnactSteps: maxReEnactSteps, localPercent: localPercent}
	s.Base = NewBase(w, engine, registry, localPlayerID, bendingUpdateApplier(bendingIncrements, localPercent, remotePercent, localPlayerID))
	return s
}

// Tick advances every bendable object's in-progress correction by one
// step scaled to dtSeconds. Re-enactment itself is not time-driven (it
// runs once, synchronously, right after a sync arrives) and is done by
// calling Reenact, not by Tick.
func (s *Extrapolate) Tick(dtSeconds float64) {
	timeFactor := dtSeconds / referenceTickSeconds
	s.World.ForEach(func(obj world.GameObject) bool {
		if bendable, ok := obj.(world.Bendable); ok {
			bendable.ApplyBendIncrement(timeFactor)
		}
		return true
	})
}

// Reenact rewinds obj to the server-confirmed state ApplyPayload just
// wrote into it, replays pending (not yet server-acknowledged) inputs on
// top of that baseline, clamped to the most recent MaxReEnactSteps of
// them, and bends the object's visible position/angle from where it was
// before this call to the freshly recomputed result. The object's saved
// copy is not used here: the server-confirmed fields ApplyPayload wrote
// in are the rewind point.
func (s *Extrapolate) Reenact(obj world.GameObject, stepDtSeconds float64, pending []sim.Input) {
	phys, ok := obj.(*world.PhysicalObject2D)
	if !ok {
		return
	}

	steps := pending
	if s.maxReEnactSteps > 0 && len(steps) > s.maxReEnactSteps {
		steps = steps[len(steps)-s.maxReEnactSteps:]
	}

	visualPosition := phys.Position
	visualAngle := phys.Angle

	// A re-enact replays history for obj alone: every other object in
	// the World already had these steps applied for real the first time
	// around, and must not be physics-advanced again.
	onlyObj := func(o world.GameObject) bool { return o.ID() == obj.ID() }
	for _, input := range steps {
		s.Sim.Step(true, 0, stepDtSeconds, false, []sim.StepInput{{Target: obj, Input: input}}, onlyObj)
	}

	targetPosition := phys.Position
	targetAngle := phys.Angle

	phys.Position = visualPosition
	phys.Angle = visualAngle
	// A re-enact's own bend always targets full convergence (percent 1.0):
	// it is catching the visible position up to a freshly recomputed local
	// prediction, not applying a network correction that should be eased
	// in gradually.
	phys.BendTo(targetPosition, targetAngle, 1.0, s.bendingIncrements)
}
