// Package world implements the §4.2 World: the authoritative in-memory
// object table shared (in parallel, independently-populated copies) by the
// server and every client.
package world

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"netcode/core"
	"netcode/serialize"
)

// ErrRemoveMissingObject is returned by World.Remove when the given id is
// not present, per spec.md §7.
var ErrRemoveMissingObject = errors.New("world: remove missing object")

// ClientIDSpace is the first id in the range reserved for locally
// predicted ("shadow") objects a client creates ahead of server
// confirmation. Authoritative ids assigned by the server always fall
// below this value.
const ClientIDSpace = 1000000

// GameObject is the common contract every object stored in a World
// satisfies: it is both a serializable class instance and carries the
// identity/ownership bookkeeping the World and sync strategies need.
type GameObject interface {
	serialize.Instance

	ID() uint32
	SetID(id uint32)

	// Owner reports the owning player, if any. Objects with no owner
	// (e.g. server-simulated scenery) return ok=false.
	Owner() (playerID uint32, ok bool)
	SetOwner(playerID uint32)

	// SyncTo copies every netScheme field from other into the receiver.
	// Transient fields (bending state, saved copies) are never part of a
	// netScheme and are therefore untouched by SyncTo.
	SyncTo(other GameObject)

	// Clone returns a deep copy of the object (without its saved copy),
	// used to resolve a decoded update without mutating the original.
	Clone() GameObject
}

// BendingState holds the transient smoothing state a sync strategy
// applies incrementally after a correction, per spec.md's Bending State
// data model. It is never part of a netScheme and is never sent over the
// wire.
type BendingState struct {
	PositionDelta core.Vector2
	AngleDelta    float64
	Increment     int
	Increments    int
}

// Active reports whether there is remaining bending work to apply.
func (b BendingState) Active() bool {
	return b.Increment < b.Increments
}

// bendEpsilon is the magnitude below which a correction is applied
// immediately instead of smoothed, per spec.md's bending collapse-to-zero
// rule: corrections too small to see aren't worth several frames of
// incremental easing.
const bendEpsilon = 1e-4

// Bendable is implemented by GameObjects whose position/angle can be
// smoothed toward a corrected value over several simulation steps
// instead of snapping immediately. Sync strategies type-assert a
// GameObject to Bendable and fall back to an immediate snap when it
// isn't one.
type Bendable interface {
	// BendTo begins smoothing the object's position and angle toward
	// target/targetAngle over increments steps, correcting only percent
	// of the full delta (spec.md's localObjBending/remoteObjBending: a
	// percent below 1.0 means the object never fully reaches target from
	// this one correction alone — it is nudged toward it, and the next
	// sync's correction nudges it again). A correction smaller than
	// bendEpsilon is applied immediately instead, regardless of percent.
	BendTo(target core.Vector2, targetAngle float64, percent float64, increments int)

	// ApplyBendIncrement advances the in-progress bend by timeFactor
	// (the step's dt expressed as a multiple of the reference tick
	// length). It is a no-op once the bend has completed.
	ApplyBendIncrement(timeFactor float64)

	BendingActive() bool
}

// PhysicalObject2D is the concrete GameObject spec.md's data model
// describes: 2D position/velocity plus a single rotation angle and its
// rate of change.
type PhysicalObject2D struct {
	Class    string
	Id       uint32
	PlayerID uint32
	HasOwner bool

	Position        core.Vector2
	Velocity        core.Vector2
	Angle           float64
	AngularVelocity float64

	Bending BendingState

	saved *PhysicalObject2D
}

// NewPhysicalObject2D constructs a bare instance for the given class
// name, suitable both for direct use and as a serialize.Registry
// constructor.
func NewPhysicalObject2D(class string) *PhysicalObject2D {
	return &PhysicalObject2D{Class: class}
}

func (o *PhysicalObject2D) ClassName() string { return o.Class }

func (o *PhysicalObject2D) Scheme() serialize.NetScheme {
	return serialize.NetScheme{
		{Name: "id", Type: serialize.FieldInt32},
		{Name: "playerId", Type: serialize.FieldInt32},
		{Name: "x", Type: serialize.FieldFloat32},
		{Name: "y", Type: serialize.FieldFloat32},
		{Name: "velX", Type: serialize.FieldFloat32},
		{Name: "velY", Type: serialize.FieldFloat32},
		{Name: "angle", Type: serialize.FieldFloat32},
		{Name: "angularVelocity", Type: serialize.FieldFloat32},
	}
}

func (o *PhysicalObject2D) GetField(name string) interface{} {
	switch name {
	case "id":
		return int32(o.Id)
	case "playerId":
		if !o.HasOwner {
			return int32(-1)
		}
		return int32(o.PlayerID)
	case "x":
		return float32(o.Position.X)
	case "y":
		return float32(o.Position.Y)
	case "velX":
		return float32(o.Velocity.X)
	case "velY":
		return float32(o.Velocity.Y)
	case "angle":
		return float32(o.Angle)
	case "angularVelocity":
		return float32(o.AngularVelocity)
	default:
		return nil
	}
}

func (o *PhysicalObject2D) SetField(name string, value interface{}) {
	switch name {
	case "id":
		if v, ok := value.(int32); ok {
			o.Id = uint32(v)
		}
	case "playerId":
		if v, ok := value.(int32); ok {
			if v < 0 {
				o.HasOwner = false
				o.PlayerID = 0
			} else {
				o.HasOwner = true
				o.PlayerID = uint32(v)
			}
		}
	case "x":
		if v, ok := value.(float32); ok {
			o.Position.X = float64(v)
		}
	case "y":
		if v, ok := value.(float32); ok {
			o.Position.Y = float64(v)
		}
	case "velX":
		if v, ok := value.(float32); ok {
			o.Velocity.X = float64(v)
		}
	case "velY":
		if v, ok := value.(float32); ok {
			o.Velocity.Y = float64(v)
		}
	case "angle":
		if v, ok := value.(float32); ok {
			o.Angle = float64(v)
		}
	case "angularVelocity":
		if v, ok := value.(float32); ok {
			o.AngularVelocity = float64(v)
		}
	}
}

func (o *PhysicalObject2D) ID() uint32      { return o.Id }
func (o *PhysicalObject2D) SetID(id uint32) { o.Id = id }

func (o *PhysicalObject2D) Owner() (uint32, bool) { return o.PlayerID, o.HasOwner }

func (o *PhysicalObject2D) SetOwner(playerID uint32) {
	o.PlayerID = playerID
	o.HasOwner = true
}

func (o *PhysicalObject2D) SyncTo(other GameObject) {
	for _, f := range o.Scheme() {
		o.SetField(f.Name, other.GetField(f.Name))
	}
}

func (o *PhysicalObject2D) Clone() GameObject {
	clone := *o
	clone.saved = nil
	return &clone
}

// SaveCopy snapshots the object's current physical state so
// RestoreSaved can rewind to it. The re-enactment path does not call it.
func (o *PhysicalObject2D) SaveCopy() {
	snapshot := *o
	snapshot.saved = nil
	o.saved = &snapshot
}

// RestoreSaved rewinds the object to its last SaveCopy snapshot. It is a
// no-op if no snapshot was ever taken.
func (o *PhysicalObject2D) RestoreSaved() {
	if o.saved == nil {
		return
	}
	saved := *o.saved
	*o = saved
}

// BendTo begins smoothing toward target/targetAngle over increments
// steps, correcting only percent of the delta (1.0 fully converges;
// below 1.0 leaves the object partway there, to be nudged further by the
// next correction). Shortest-path wrapping is used for the angle. A
// correction too small to perceive is applied immediately and in full,
// regardless of percent.
func (o *PhysicalObject2D) BendTo(target core.Vector2, targetAngle float64, percent float64, increments int) {
	posDelta := target.Sub(o.Position)
	angleDelta := core.ShortestAngleDelta(o.Angle, targetAngle)

	if increments <= 0 || (posDelta.Magnitude() < bendEpsilon && math.Abs(angleDelta) < bendEpsilon) {
		o.Position = target
		o.Angle = core.WrapAngle(targetAngle)
		o.Bending = BendingState{}
		return
	}

	o.Bending = BendingState{
		PositionDelta: posDelta.Mul(percent / float64(increments)),
		AngleDelta:    angleDelta * percent / float64(increments),
		Increment:     0,
		Increments:    increments,
	}
}

// ApplyBendIncrement applies one step of the in-progress bend, scaled by
// timeFactor.
func (o *PhysicalObject2D) ApplyBendIncrement(timeFactor float64) {
	if !o.Bending.Active() {
		return
	}
	o.Position = o.Position.Add(o.Bending.PositionDelta.Mul(timeFactor))
	o.Angle = core.WrapAngle(o.Angle + o.Bending.AngleDelta*timeFactor)
	o.Bending.Increment++
}

func (o *PhysicalObject2D) BendingActive() bool { return o.Bending.Active() }

// World is the authoritative table of live game objects, keyed by id.
// Both the server and every client hold their own World instance; they
// are kept in sync only through the Network Transmitter, never shared
// memory.
type World struct {
	mu          sync.RWMutex
	objects     map[uint32]GameObject
	idCount     uint32
	stepCount   uint32
	playerCount uint32
}

// New creates an empty World.
func New() *World {
	return &World{objects: make(map[uint32]GameObject)}
}

// newId returns the smallest id not currently in use, starting the
// search at the last allocated id and wrapping the counter forward past
// any collision, per spec.md §9's resolved allocator policy.
func (w *World) newId() uint32 {
	for {
		w.idCount++
		if w.idCount == 0 {
			continue // uint32 wrapped past zero; zero is reserved as "unassigned"
		}
		if _, taken := w.objects[w.idCount]; !taken {
			return w.idCount
		}
	}
}

// Add inserts obj into the world. If obj has no id yet (id == 0), one is
// allocated below ClientIDSpace. Callers that want a client-predicted
// shadow object must assign an id in [ClientIDSpace, ...) themselves
// before calling Add.
func (w *World) Add(obj GameObject) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if obj.ID() == 0 {
		obj.SetID(w.newId())
	}
	w.objects[obj.ID()] = obj
	return obj.ID()
}

// Remove deletes the object with the given id. It returns
// ErrRemoveMissingObject if no such object exists.
func (w *World) Remove(id uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.objects[id]; !ok {
		return fmt.Errorf("world: remove %d: %w", id, ErrRemoveMissingObject)
	}
	delete(w.objects, id)
	return nil
}

// Get returns the object with the given id, if present.
func (w *World) Get(id uint32) (GameObject, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.objects[id]
	return obj, ok
}

// Count returns the number of objects currently in the world.
func (w *World) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.objects)
}

// ForEach calls fn for every object in the world. Iteration order is
// unspecified (backed by a Go map, per spec.md §9); fn returning false
// stops iteration early.
func (w *World) ForEach(fn func(GameObject) bool) {
	w.mu.RLock()
	objs := make([]GameObject, 0, len(w.objects))
	for _, obj := range w.objects {
		objs = append(objs, obj)
	}
	w.mu.RUnlock()

	for _, obj := range objs {
		if !fn(obj) {
			return
		}
	}
}

// Query returns every object for which fn reports true. Order is
// unspecified.
func (w *World) Query(fn func(GameObject) bool) []GameObject {
	var out []GameObject
	w.ForEach(func(obj GameObject) bool {
		if fn(obj) {
			out = append(out, obj)
		}
		return true
	})
	return out
}

// QueryOne returns the first object for which fn reports true. Which
// object is "first" is unspecified when more than one matches (spec.md
// §9's resolved first-match-wins policy, applied uniformly).
func (w *World) QueryOne(fn func(GameObject) bool) (GameObject, bool) {
	var found GameObject
	ok := false
	w.ForEach(func(obj GameObject) bool {
		if fn(obj) {
			found, ok = obj, true
			return false
		}
		return true
	})
	return found, ok
}

// StepCount returns the number of simulation steps this world has run.
func (w *World) StepCount() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stepCount
}

// IncrementStep advances the step counter and returns the new value.
func (w *World) IncrementStep() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stepCount++
	return w.stepCount
}

// SetStepCount forces the step counter to n, used by the Client Engine's
// re-enactment ("set stepCount = serverStep") and step-drift snap
// ("snap stepCount = sync.stepCount") per spec.md §4.7/§4.8.1.
func (w *World) SetStepCount(n uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stepCount = n
}

// PlayerCount returns the tracked player count. The server raises it on
// every connection to allocate player ids and never lowers it, so it
// counts players ever connected, not players currently connected.
func (w *World) PlayerCount() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.playerCount
}

// SetPlayerCount updates the tracked player count.
func (w *World) SetPlayerCount(n uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.playerCount = n
}
