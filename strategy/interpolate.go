package strategy

import (
	"fmt"

	"netcode/serialize"
	"netcode/sim"
	"netcode/transmit"
	"netcode/world"
)

// Interpolate does no re-enactment; it takes whatever the server last
// confirmed and smoothly bends every bendable object's position and
// angle toward it over BendingIncrements steps. It does not switch off
// local simulation: the Client Engine still steps local physics and
// applies local input each step whichever strategy is active.
type Interpolate struct {
	*Base

	bendingIncrements int
	required          bool
	lastAppliedStep   uint32
	haveAppliedOnce   bool
}

// NewInterpolate builds an Interpolate strategy. required disables the
// strict-future-step check (a payload whose step is not newer than the
// last one applied is normally ignored as stale/out-of-order; required
// forces it to apply anyway). localPercent/remotePercent are spec.md's
// localObjBending/remoteObjBending (both default to 1.0 for
// Interpolate: a full correction each sync, per spec.md §4.8.2).
func NewInterpolate(w *world.World, engine *sim.Engine, registry *serialize.Registry, localPlayerID uint32, bendingIncrements int, localPercent, remotePercent float64, required bool) *Interpolate {
	s := &Interpolate{bendingIncrements: bendingIncrements, required: required}
	s.Base = NewBase(w, engine, registry, localPlayerID, bendingUpdateApplier(bendingIncrements, localPercent, remotePercent, localPlayerID))
	return s
}

// ApplyPayload applies payload unless it is older than or equal to the
// last step this strategy already applied and required is false, per
// spec.md §9's resolved strict-future-step policy.
func (s *Interpolate) ApplyPayload(payload []byte) (uint32, error) {
	step, events, err := transmit.DecodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("strategy: interpolate apply payload: %w", err)
	}

	if !s.required && s.haveAppliedOnce && step <= s.lastAppliedStep {
		return step, nil
	}

	applyErr := s.applyEvents(events)
	s.needFirstSync = false
	s.lastAppliedStep = step
	s.haveAppliedOnce = true
	return step, applyErr
}

// Tick advances every bendable object's in-progress correction by one
// step scaled to dtSeconds.
func (s *Interpolate) Tick(dtSeconds float64) {
	timeFactor := dtSeconds / referenceTickSeconds
	s.World.ForEach(func(obj world.GameObject) bool {
		if bendable, ok := obj.(world.Bendable); ok {
			bendable.ApplyBendIncrement(timeFactor)
		}
		return true
	})
}
