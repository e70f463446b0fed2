package strategy

import (
	"netcode/serialize"
	"netcode/sim"
	"netcode/world"
)



// FrameSync is the simplest strategy: it never re-enacts and never bends
// a correction in. Every update from the server is applied in full the
// frame it arrives.
type FrameSync struct {
	*Base
}

// NewFrameSync builds a FrameSync strategy over w/engine/registry.
func NewFrameSync(w *world.World, engine *sim.Engine, registry *serialize.Registry, localPlayerID uint32) *FrameSync {
	s := &FrameSync{}
	s.Base = NewBase(w, engine, registry, localPlayerID, mergeFields)
	return s
}

// Tick is a no-op: FrameSync has no bending state to advance.
func (s *FrameSync) Tick(dtSeconds float64) {}
