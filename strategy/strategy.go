// Package strategy implements the §4.8 Sync Strategies: the three ways a
// client can reconcile a server sync payload against its own predicted
// world state.
package strategy

import (
	"errors"
	"fmt"

	"netcode/serialize"
	"netcode/sim"
	"netcode/transmit"
	"netcode/world"
)

// ErrUnknownSyncStrategy is returned when a configuration names a
// strategy this package does not implement, per spec.md §7.
var ErrUnknownSyncStrategy = errors.New("strategy: unknown sync strategy")

// referenceTickSeconds is the step length spec.md's bendingIncrements
// and "timeFactor" figures are expressed relative to (60Hz).
const referenceTickSeconds = 1.0 / 60.0

// Strategy is the contract the Client Engine drives against. ApplyPayload
// handles an incoming server sync; Tick is called once per local
// simulation step to advance any in-progress bending.
type Strategy interface {
	ApplyPayload(payload []byte) (step uint32, err error)
	Tick(dtSeconds float64)
	NeedsFirstSync() bool
}

// UpdateApplier reconciles an existing object with the freshly decoded
// state a server sent for it. Each strategy supplies its own: FrameSync
// snaps immediately, Interpolate and Extrapolate bend.
type UpdateApplier func(existing, decoded world.GameObject)

// Base holds the reconciliation machinery shared by all three
// strategies: decoding a payload, creating/destroying objects, matching
// a server-confirmed create against a locally predicted shadow, and
// dispatching updates to a strategy-specific UpdateApplier.
type Base struct {
	World         *world.World
	Sim           *sim.Engine
	Registry      *serialize.Registry
	LocalPlayerID uint32

	applyUpdate UpdateApplier

	needFirstSync bool
}

// NewBase constructs the shared reconciliation state. needFirstSync
// starts true: per spec.md, a client applies the first sync it
// receives as a full snapshot regardless of strategy, since it has no
// prior state to reconcile against.
func NewBase(w *world.World, engine *sim.Engine, registry *serialize.Registry, localPlayerID uint32, applyUpdate UpdateApplier) *Base {
	return &Base{
		World:         w,
		Sim:           engine,
		Registry:      registry,
		LocalPlayerID: localPlayerID,
		applyUpdate:   applyUpdate,
		needFirstSync: true,
	}
}

func (b *Base) NeedsFirstSync() bool { return b.needFirstSync }

// ApplyPayload decodes payload and applies its create/update/destroy
// events to the world, in that order (transmit.DecodePayload already
// guarantees it). It returns the server step the payload was built for.
func (b *Base) ApplyPayload(payload []byte) (uint32, error) {
	step, events, err := transmit.DecodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("strategy: apply payload: %w", err)
	}

	err = b.applyEvents(events)
	b.needFirstSync = false
	return step, err
}

// applyEvents applies a decoded event list without touching
// needFirstSync, so strategies that gate on the step number (Interpolate)
// can decide whether to apply at all before committing to it.
func (b *Base) applyEvents(events []transmit.Event) error {
	var err error
	for _, ev := range events {
		switch ev.Kind {
		case transmit.EventCreate:
			if applyErr := b.applyCreate(ev.ObjectID, ev.Payload); applyErr != nil {
				err = applyErr
			}
		case transmit.EventUpdate:
			if applyErr := b.applyUpdateEvent(ev.ObjectID, ev.Payload); applyErr != nil {
				err = applyErr
			}
		case transmit.EventDestroy:
			_ = b.Sim.RemoveObject(ev.ObjectID)
		}
	}
	return err
}

func (b *Base) decode(payload []byte) (world.GameObject, error) {
	inst, err := b.Registry.Decode(payload)
	if err != nil {
		return nil, err
	}
	obj, ok := inst.(world.GameObject)
	if !ok {
		return nil, fmt.Errorf("strategy: decoded %T does not implement world.GameObject", inst)
	}
	return obj, nil
}

// applyCreate resolves a server objectCreate event three ways, per
// spec.md §4.8.1's step 2: an id already present in the World is the
// "Existing" branch (a full sync re-tags every object in a room as
// objectCreate, not just genuinely new ones, so this is the routine
// case) and reconciles in place through the same UpdateApplier
// applyUpdateEvent uses, rather than overwriting it and skipping
// bending; otherwise a locally predicted shadow of the same object is
// reclaimed; only an id with neither is truly new and gets added.
func (b *Base) applyCreate(objectID uint32, payload []byte) error {
	decoded, err := b.decode(payload)
	if err != nil {
		return fmt.Errorf("strategy: apply create %d: %w", objectID, err)
	}
	decoded.SetID(objectID)

	if existing, ok := b.World.Get(objectID); ok {
		b.applyUpdate(existing, decoded)
		return nil
	}

	if shadow, ok := b.findShadowFor(decoded); ok {
		return b.reclaimShadow(shadow, decoded)
	}

	if _, err := b.Sim.AddObject(decoded); err != nil {
		return fmt.Errorf("strategy: apply create %d: %w", objectID, err)
	}
	return nil
}

// findShadowFor looks for a locally predicted object standing in for the
// object the server just confirmed. Per spec.md §9's resolved policy,
// matching is first-match-wins over same owner + same class; this
// module has no wire-level inputId to match on more precisely, so an
// object's class and owner are the matching criteria actually available
// to it.
func (b *Base) findShadowFor(decoded world.GameObject) (world.GameObject, bool) {
	playerID, hasOwner := decoded.Owner()
	if !hasOwner || playerID != b.LocalPlayerID {
		return nil, false
	}
	return b.Sim.FindLocalShadow(func(obj world.GameObject) bool {
		pid, ok := obj.Owner()
		return ok && pid == b.LocalPlayerID && obj.ClassName() == decoded.ClassName()
	})
}

// reclaimShadow replaces a shadow object's client-space id with the
// server-confirmed authoritative one and syncs its fields to the
// server's view, rather than destroying the shadow and creating a
// second object (which would cause a visible pop).
func (b *Base) reclaimShadow(shadow, decoded world.GameObject) error {
	if err := b.Sim.RemoveObject(shadow.ID()); err != nil {
		return fmt.Errorf("strategy: reclaim shadow: %w", err)
	}
	shadow.SetID(decoded.ID())
	shadow.SyncTo(decoded)
	if _, err := b.Sim.AddObject(shadow); err != nil {
		return fmt.Errorf("strategy: reclaim shadow: %w", err)
	}
	return nil
}

func (b *Base) applyUpdateEvent(objectID uint32, payload []byte) error {
	decoded, err := b.decode(payload)
	if err != nil {
		return fmt.Errorf("strategy: apply update %d: %w", objectID, err)
	}

	existing, ok := b.World.Get(objectID)
	if !ok {
		// Update for an object we never got a create for; a full sync
		// will eventually catch this id up. Dropping it here matches
		// spec.md §7's policy of logging and skipping a malformed or
		// out-of-order event rather than failing the whole payload.
		return nil
	}

	b.applyUpdate(existing, decoded)
	return nil
}

// mergeFields copies every netScheme field from decoded into existing,
// except fields reported as serialize.Pruned, which keep existing's
// current value (the sender judged them unchanged since the last send).
func mergeFields(existing, decoded world.GameObject) {
	for _, f := range existing.Scheme() {
		v := decoded.GetField(f.Name)
		if v == serialize.Pruned {
			continue
		}
		existing.SetField(f.Name, v)
	}
}

// bendableFieldNames are the PhysicalObject2D fields a bending
// UpdateApplier smooths incrementally; every other field is snapped
// immediately regardless of strategy.
var bendableFieldNames = map[string]bool{"x": true, "y": true, "angle": true}

// mergeNonBendableFields applies every field except the bendable ones,
// honoring pruning the same way mergeFields does.
func mergeNonBendableFields(existing, decoded world.GameObject) {
	for _, f := range existing.Scheme() {
		if bendableFieldNames[f.Name] {
			continue
		}
		v := decoded.GetField(f.Name)
		if v == serialize.Pruned {
			continue
		}
		existing.SetField(f.Name, v)
	}
}

// bendingUpdateApplier builds an UpdateApplier that snaps every
// non-positional field immediately and smooths position/angle toward the
// server's resolved values over bendingIncrements steps. It resolves
// pruned string fields (and any other pruned field) against existing's
// current value before computing the bend target, so a correction never
// bends toward a zero-valued placeholder.
//
// The correction is scaled by localPercent when the object is owned by
// localPlayerID (spec.md's localObjBending) or remotePercent otherwise
// (remoteObjBending): the local player's own objects are corrected at one
// rate, and every other object (server-owned or another player's) at the
// other.
func bendingUpdateApplier(bendingIncrements int, localPercent, remotePercent float64, localPlayerID uint32) UpdateApplier {
	return func(existing, decoded world.GameObject) {
		bendable, ok := existing.(world.Bendable)
		phys, isPhys := existing.(*world.PhysicalObject2D)
		if !ok || !isPhys {
			mergeFields(existing, decoded)
			return
		}

		resolved := phys.Clone().(*world.PhysicalObject2D)
		mergeFields(resolved, decoded)

		mergeNonBendableFields(existing, decoded)

		percent := remotePercent
		if pid, hasOwner := existing.Owner(); hasOwner && pid == localPlayerID {
			percent = localPercent
		}
		bendable.BendTo(resolved.Position, resolved.Angle, percent, bendingIncrements)
	}
}
