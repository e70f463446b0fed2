// Package transmit implements the §4.5 Network Transmitter: it turns a
// set of queued object events into one wire payload per peer, skipping
// whole objects that have not changed since the last payload sent to
// that peer and pruning unchanged STRING fields.
package transmit

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"netcode/serialize"
	"netcode/world"
)

// EventKind identifies the three event shapes a sync payload carries.
type EventKind uint8

const (
	EventCreate EventKind = iota
	EventUpdate
	EventDestroy
)

// Event is one queued object event, ready to be written to the wire.
type Event struct {
	Kind     EventKind
	ObjectID uint32
	Payload  []byte // encoded object bytes; nil for EventDestroy
}

// Transmitter accumulates object events for a single peer across one
// step and serializes them into a single sync payload, remembering what
// it last sent that peer so unchanged objects are never retransmitted
// and unchanged STRING fields are pruned. Other unchanged fields of an
// object that does go out are sent in full.
type Transmitter struct {
	registry *serialize.Registry

	events     []Event
	lastFields map[uint32]map[string]interface{}
}

// New creates a Transmitter backed by registry for encoding objects.
func New(registry *serialize.Registry) *Transmitter {
	return &Transmitter{
		registry:   registry,
		lastFields: make(map[uint32]map[string]interface{}),
	}
}

// QueueCreate queues an objectCreate event. Creates are always sent in
// full and always appear before any update/destroy event for the same
// object within a payload (spec.md §9's resolved ordering guarantee),
// enforced by SerializePayload writing all creates first.
func (t *Transmitter) QueueCreate(obj world.GameObject) error {
	payload, err := t.registry.Encode(obj)
	if err != nil {
		return fmt.Errorf("transmit: queue create %d: %w", obj.ID(), err)
	}
	t.lastFields[obj.ID()] = snapshot(obj)
	t.events = append(t.events, Event{Kind: EventCreate, ObjectID: obj.ID(), Payload: payload})
	return nil
}

// QueueUpdate queues an objectUpdate event for obj, unless every field
// value equals (by ==) the value last sent for this object, in which
// case the object is skipped entirely; the encoded bytes are not
// compared. STRING fields that are unchanged
// since the last send are pruned (encoded as serialize.Pruned) even when
// the object as a whole still needs to go out because some other field
// changed.
func (t *Transmitter) QueueUpdate(obj world.GameObject) error {
	cur := snapshot(obj)
	prev, hadPrev := t.lastFields[obj.ID()]

	if hadPrev && fieldsEqual(prev, cur) {
		return nil
	}

	view := &pruningView{Instance: obj, prev: prev, hadPrev: hadPrev}
	payload, err := t.registry.Encode(view)
	if err != nil {
		return fmt.Errorf("transmit: queue update %d: %w", obj.ID(), err)
	}

	t.lastFields[obj.ID()] = cur
	t.events = append(t.events, Event{Kind: EventUpdate, ObjectID: obj.ID(), Payload: payload})
	return nil
}

// QueueDestroy queues an objectDestroy event and forgets the object's
// last-sent field snapshot.
func (t *Transmitter) QueueDestroy(id uint32) {
	delete(t.lastFields, id)
	t.events = append(t.events, Event{Kind: EventDestroy, ObjectID: id})
}

// ClearPayload drops all queued events without affecting the per-object
// field memory, ready for the next step's QueueCreate/QueueUpdate calls.
func (t *Transmitter) ClearPayload() {
	t.events = nil
}

// Forget drops the per-object field memory for id, forcing the next
// QueueUpdate to send a full, unpruned payload for it. Used when a peer
// (re)joins and needs a fresh baseline.
func (t *Transmitter) Forget(id uint32) {
	delete(t.lastFields, id)
}

// PruneMissing forgets field memory for every remembered id not present
// in liveIDs, implementing the server step's "prune objMemory entries
// whose id no longer exists" contract (spec.md §4.6 step 5).
func (t *Transmitter) PruneMissing(liveIDs map[uint32]bool) {
	for id := range t.lastFields {
		if !liveIDs[id] {
			delete(t.lastFields, id)
		}
	}
}

// SerializePayload writes every queued event as a single wire payload:
// a u32 step number, a u16 event count, then each event as kind:u8,
// objectId:u32, and (for create/update) payloadLen:u32 followed by the
// encoded bytes. Creates are written before updates, which are written
// before destroys, regardless of queue order, satisfying the
// create-before-update/destroy guarantee for any object touched more
// than once in the same step.
func (t *Transmitter) SerializePayload(step uint32) ([]byte, error) {
	ordered := make([]Event, 0, len(t.events))
	for _, kind := range []EventKind{EventCreate, EventUpdate, EventDestroy} {
		for _, ev := range t.events {
			if ev.Kind == kind {
				ordered = append(ordered, ev)
			}
		}
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, step); err != nil {
		return nil, fmt.Errorf("transmit: serialize payload: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(ordered))); err != nil {
		return nil, fmt.Errorf("transmit: serialize payload: %w", err)
	}

	for _, ev := range ordered {
		if err := binary.Write(buf, binary.BigEndian, uint8(ev.Kind)); err != nil {
			return nil, fmt.Errorf("transmit: serialize payload: %w", err)
		}
		if err := binary.Write(buf, binary.BigEndian, ev.ObjectID); err != nil {
			return nil, fmt.Errorf("transmit: serialize payload: %w", err)
		}
		if ev.Kind == EventDestroy {
			continue
		}
		if err := binary.Write(buf, binary.BigEndian, uint32(len(ev.Payload))); err != nil {
			return nil, fmt.Errorf("transmit: serialize payload: %w", err)
		}
		buf.Write(ev.Payload)
	}

	return buf.Bytes(), nil
}

// Events returns the events queued so far, in queue order (not the
// create/update/destroy wire order SerializePayload enforces). Intended
// for tests and diagnostics.
func (t *Transmitter) Events() []Event {
	return t.events
}

// DecodePayload reverses SerializePayload, returning the step number the
// payload was built for and its events in wire order (creates, then
// updates, then destroys).
func DecodePayload(data []byte) (step uint32, events []Event, err error) {
	buf := bytes.NewReader(data)

	if err = binary.Read(buf, binary.BigEndian, &step); err != nil {
		return 0, nil, fmt.Errorf("transmit: decode payload: %w", err)
	}

	var count uint16
	if err = binary.Read(buf, binary.BigEndian, &count); err != nil {
		return 0, nil, fmt.Errorf("transmit: decode payload: %w", err)
	}

	events = make([]Event, 0, count)
	for i := 0; i < int(count); i++ {
		var kind uint8
		var objectID uint32
		if err = binary.Read(buf, binary.BigEndian, &kind); err != nil {
			return 0, nil, fmt.Errorf("transmit: decode payload: %w", err)
		}
		if err = binary.Read(buf, binary.BigEndian, &objectID); err != nil {
			return 0, nil, fmt.Errorf("transmit: decode payload: %w", err)
		}

		ev := Event{Kind: EventKind(kind), ObjectID: objectID}
		if ev.Kind != EventDestroy {
			var length uint32
			if err = binary.Read(buf, binary.BigEndian, &length); err != nil {
				return 0, nil, fmt.Errorf("transmit: decode payload: %w", err)
			}
			payload := make([]byte, length)
			if _, err = buf.Read(payload); err != nil {
				return 0, nil, fmt.Errorf("transmit: decode payload: %w", err)
			}
			ev.Payload = payload
		}
		events = append(events, ev)
	}

	return step, events, nil
}

func snapshot(obj world.GameObject) map[string]interface{} {
	fields := make(map[string]interface{})
	for _, f := range obj.Scheme() {
		fields[f.Name] = obj.GetField(f.Name)
	}
	return fields
}

func fieldsEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// pruningView wraps a GameObject so that STRING fields unchanged since
// the last send are reported as serialize.Pruned instead of their real
// value, without mutating the underlying object.
type pruningView struct {
	serialize.Instance
	prev    map[string]interface{}
	hadPrev bool
}

func (v *pruningView) GetField(name string) interface{} {
	value := v.Instance.GetField(name)
	if !v.hadPrev {
		return value
	}
	for _, f := range v.Instance.Scheme() {
		if f.Name == name && f.Type == serialize.FieldString && v.prev[name] == value {
			return serialize.Pruned
		}
	}
	return value
}
