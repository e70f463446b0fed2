// Package sim implements the §4.4 Simulation Engine: the single
// authoritative step function both the server and every client run
// against their own World.
package sim

import (
	"errors"
	"fmt"

	"netcode/world"
)

// ErrDuplicateShadowID is returned by Engine.AddObject when a caller
// tries to add a locally-predicted object whose id (already in the
// client id space) collides with one already present.
var ErrDuplicateShadowID = errors.New("sim: duplicate shadow object id")

// Physics is the injected collaborator that actually moves objects.
// spec.md §1 puts a real physics engine out of scope; this is the seam
// a game supplies its own through (or none at all: with a nil Physics,
// Step moves no object).
type Physics interface {
	// Step advances every object for which filter reports true by
	// dtSeconds of simulated time.
	Step(dtSeconds float64, filter func(world.GameObject) bool)
}

// Input is one player's input for a single simulation step.
type Input struct {
	PlayerID     uint32
	Step         uint32
	MessageIndex uint32
	Actions      map[string]bool
}

// InputApplier mutates obj according to a single input, e.g. setting
// velocity from a pressed-keys set. Games supply this; the engine has no
// opinion about what an input means.
type InputApplier func(obj world.GameObject, input Input)

// Hook is called once per non-physics-only step, before or after physics
// runs.
type Hook func()

// StepInput pairs a queued Input with the object it should be applied
// to. Resolving "which object does playerId's input apply to" is the
// caller's job (server and client engines do this differently), not the
// simulation engine's.
type StepInput struct {
	Target world.GameObject
	Input  Input
}

// Engine runs the fixed-step simulation loop against a World.
type Engine struct {
	World      *world.World
	Physics    Physics
	ApplyInput InputApplier
	PreStep    []Hook
	PostStep   []Hook
}

// New creates a simulation Engine bound to w.
func New(w *world.World, physics Physics, applyInput InputApplier) *Engine {
	return &Engine{World: w, Physics: physics, ApplyInput: applyInput}
}

// AddObject inserts obj into the world. A shadow object (id already in
// world.ClientIDSpace) that collides with an existing one is refused
// rather than silently overwriting it.
func (e *Engine) AddObject(obj world.GameObject) (uint32, error) {
	if obj.ID() >= world.ClientIDSpace {
		if _, exists := e.World.Get(obj.ID()); exists {
			return 0, fmt.Errorf("sim: add object %d: %w", obj.ID(), ErrDuplicateShadowID)
		}
	}
	return e.World.Add(obj), nil
}

// RemoveObject deletes the object with the given id.
func (e *Engine) RemoveObject(id uint32) error {
	if err := e.World.Remove(id); err != nil {
		return fmt.Errorf("sim: remove object: %w", err)
	}
	return nil
}

// ProcessInput applies a single input to obj via the engine's configured
// InputApplier. It is a no-op if no applier was configured.
func (e *Engine) ProcessInput(obj world.GameObject, input Input) {
	if e.ApplyInput != nil {
		e.ApplyInput(obj, input)
	}
}

// FindLocalShadow returns the first client-predicted object (id in
// world.ClientIDSpace) for which match reports true. When more than one
// shadow matches, which one is returned is unspecified beyond
// first-match-wins over World's (map-backed, unordered) iteration,
// matching spec.md §9's resolved policy.
func (e *Engine) FindLocalShadow(match func(world.GameObject) bool) (world.GameObject, bool) {
	return e.World.QueryOne(func(obj world.GameObject) bool {
		return obj.ID() >= world.ClientIDSpace && match(obj)
	})
}

// Step advances the simulation by one tick.
//
//   - inputs are applied first, each exactly once, unless physicsOnly.
//   - preStep hooks run next, unless physicsOnly.
//   - Physics.Step advances every object the filter admits by dt seconds.
//     A nil filter admits every object, the normal (non-reenact) case.
//     A re-enact must restrict this to just the object being replayed:
//     every other object already had this step applied for real the
//     first time around, and would otherwise be integrated again.
//   - postStep hooks run last, unless physicsOnly.
//   - the world's step counter advances, unless isReenact: a re-enacted
//     step is a replay of a step that already happened and must not be
//     counted twice.
//
// t is accepted for callers that want a wall-clock timestamp attached to
// logs or hooks; the engine itself only uses dt.
func (e *Engine) Step(isReenact bool, t float64, dt float64, physicsOnly bool, inputs []StepInput, filter func(world.GameObject) bool) {
	if !physicsOnly {
		for _, si := range inputs {
			e.ProcessInput(si.Target, si.Input)
		}
		for _, hook := range e.PreStep {
			hook()
		}
	}

	if e.Physics != nil {
		if filter == nil {
			filter = func(world.GameObject) bool { return true }
		}
		e.Physics.Step(dt, filter)
	}

	if !physicsOnly {
		for _, hook := range e.PostStep {
			hook()
		}
	}

	if !isReenact {
		e.World.IncrementStep()
	}
}
