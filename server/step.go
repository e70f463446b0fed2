package server

import (
	"fmt"
	"time"

	"netcode/protocol"
	"netcode/sim"
	"netcode/world"
)

// SpawnObject adds obj to the World through the Simulation Engine and
// assigns it to roomName. When Config.UpdateOnObjectCreation is set, the
// room's next step emits an immediate sync rather than waiting for the
// next updateRate boundary, per spec.md §6's server config.
func (a *Authority) SpawnObject(obj world.GameObject, roomName string) (uint32, error) {
	id, err := a.Sim.AddObject(obj)
	if err != nil {
		return 0, fmt.Errorf("server: spawn object: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rooms[roomName]
	if !ok {
		return id, fmt.Errorf("server: spawn object in room %q: %w", roomName, ErrUnknownRoom)
	}
	r.objectIDs[id] = true
	if a.Config.UpdateOnObjectCreation {
		r.requestImmediateSync = true
	}
	return id, nil
}

// DestroyObject removes obj from the World and every room's object set.
func (a *Authority) DestroyObject(id uint32) error {
	if err := a.Sim.RemoveObject(id); err != nil {
		return fmt.Errorf("server: destroy object: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.rooms {
		delete(r.objectIDs, id)
	}
	return nil
}

// tick runs one authoritative step, per spec.md §4.6's periodic-step
// contract: drain one step-bucket of queued input per player, advance
// the simulation, emit due syncs, and prune per-player field memory for
// objects that no longer exist.
func (a *Authority) tick() {
	stepCount := a.World.StepCount()
	a.log.WithField("step", stepCount+1).Debug("server__preStep")

	stepInputs := a.collectDueInputs(stepCount)

	nowSeconds := float64(time.Now().UnixMilli()) / 1000
	a.Sim.Step(false, nowSeconds, 1.0/float64(a.Config.StepRate), false, stepInputs, nil)

	newStep := a.World.StepCount()
	a.emitDueSyncs(newStep)

	a.log.WithField("step", newStep).Debug("server__postStep")
}

// collectDueInputs pops, for each player with a nonempty queue, the
// smallest-step bucket once it is no later than stepCount, and resolves
// each input against every object that player owns.
func (a *Authority) collectDueInputs(stepCount uint32) []sim.StepInput {
	a.mu.Lock()
	defer a.mu.Unlock()

	var stepInputs []sim.StepInput
	for playerID, queue := range a.playerInputQueues {
		if len(queue) == 0 {
			continue
		}
		minStep, ok := smallestStep(queue)
		if !ok || minStep > stepCount {
			continue
		}
		inputs := queue[minStep]
		delete(queue, minStep)

		targets := a.World.Query(func(obj world.GameObject) bool {
			pid, has := obj.Owner()
			return has && pid == playerID
		})
		for _, in := range inputs {
			a.log.WithFields(map[string]interface{}{"playerId": playerID, "step": in.Step}).Debug("server__processInput")
			for _, obj := range targets {
				stepInputs = append(stepInputs, sim.StepInput{Target: obj, Input: in})
			}
		}
	}
	return stepInputs
}

func smallestStep(queue map[uint32][]sim.Input) (uint32, bool) {
	first := true
	var min uint32
	for step := range queue {
		if first || step < min {
			min = step
			first = false
		}
	}
	return min, !first
}

// emitDueSyncs builds and sends a payload to every room whose
// updateRate boundary has arrived or that requested an immediate sync,
// then prunes every player's stale field memory.
func (a *Authority) emitDueSyncs(step uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	scheduled := a.Config.UpdateRate > 0 && int(step)%a.Config.UpdateRate == 0
	for _, r := range a.rooms {
		if !scheduled && !r.requestImmediateSync {
			continue
		}
		r.syncCounter++
		fullSync := r.requestFullSync || (a.Config.FullSyncRate > 0 && r.syncCounter%a.Config.FullSyncRate == 0)
		a.syncRoom(r, step, fullSync)
		r.requestImmediateSync = false
		r.requestFullSync = false
	}

	live := a.liveObjectIDs()
	for _, p := range a.players {
		p.tx.PruneMissing(live)
	}
}

// syncRoom builds and sends one payload per player in r. Must be called
// with a.mu held.
func (a *Authority) syncRoom(r *room, step uint32, fullSync bool) {
	for playerID := range r.playerIDs {
		p, ok := a.players[playerID]
		if !ok {
			continue
		}

		for objID := range r.objectIDs {
			obj, live := a.World.Get(objID)
			if !live {
				p.tx.QueueDestroy(objID)
				continue
			}
			if fullSync {
				p.tx.Forget(objID)
				if err := p.tx.QueueCreate(obj); err != nil {
					a.log.WithError(err).Warn("queue create failed")
				}
				continue
			}
			if err := p.tx.QueueUpdate(obj); err != nil {
				a.log.WithError(err).Warn("queue update failed")
			}
		}

		payload, err := p.tx.SerializePayload(step)
		p.tx.ClearPayload()
		if err != nil {
			a.log.WithError(err).Warn("serialize payload failed")
			continue
		}
		if err := p.conn.Send(protocol.Encode(protocol.MsgWorldUpdate, payload)); err != nil {
			a.log.WithError(err).Warn("worldUpdate send failed")
		}
	}
}

// liveObjectIDs returns every id currently in the World. Must be called
// with a.mu held (World itself is independently synchronized, but the
// result is used alongside other locked state).
func (a *Authority) liveObjectIDs() map[uint32]bool {
	ids := make(map[uint32]bool)
	a.World.ForEach(func(obj world.GameObject) bool {
		ids[obj.ID()] = true
		return true
	})
	return ids
}
