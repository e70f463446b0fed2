// Package serialize implements the §4.1 Serializer: a registry of typed
// class descriptors and the binary encode/decode contract used for both
// wire payloads and diff comparisons.
package serialize

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"unicode/utf16"
)

// Sentinel errors per spec.md §7.
var (
	ErrUnknownClassID  = errors.New("serialize: unknown class id")
	ErrTruncatedBuffer = errors.New("serialize: truncated buffer")
)

// FieldType identifies the wire representation of one netScheme field.
type FieldType uint8

const (
	FieldUint8 FieldType = iota
	FieldInt16
	FieldInt32
	FieldFloat32
	FieldString
	FieldClassInstance
	FieldList
)

// Field describes one entry in a class's netScheme, in wire order.
type Field struct {
	Name string
	Type FieldType
	// ItemType is the element type when Type is FieldList.
	ItemType FieldType
}

// NetScheme is the ordered list of fields that participate in wire
// serialization and in Instance.SyncTo.
type NetScheme []Field

// prunedString is the sentinel value GetField returns for a STRING field
// that should be encoded as "pruned" (length marker 0xFFFF, §9 Open
// Question resolved in SPEC_FULL.md): the field is omitted from the wire
// and the receiver must keep its own current value.
type prunedString struct{}

// Pruned is the value to return from Instance.GetField for a STRING field
// that has not changed since the last send and should not be retransmitted.
var Pruned = prunedString{}

const prunedMarker = 0xFFFF

// Instance is implemented by every class registered with a Registry. It
// gives the serializer untyped access to scheme-declared fields without
// reflection.
type Instance interface {
	ClassName() string
	Scheme() NetScheme
	GetField(name string) interface{}
	SetField(name string, value interface{})
}

// Descriptor binds a class name to its netScheme and a constructor that
// produces a bare instance (no game-engine reference), per spec.md §4.1's
// decode contract.
type Descriptor struct {
	ClassID uint8
	Name    string
	Scheme  NetScheme
	New     func() Instance
}

// Registry maps classId <-> class name, used for polymorphic decode
// (spec.md §9 "class registry for polymorphic decode").
type Registry struct {
	byID   map[uint8]*Descriptor
	byName map[string]*Descriptor
}

// NewRegistry creates an empty class registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint8]*Descriptor),
		byName: make(map[string]*Descriptor),
	}
}

// classID is a stable 8-bit hash of the class name, per spec.md §4.1.
func classID(name string) uint8 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	sum := h.Sum32()
	return uint8(sum ^ (sum >> 8) ^ (sum >> 16) ^ (sum >> 24))
}

// Register adds a class to the registry, deriving its classId from the
// class name. It panics on a colliding classId, since that is a
// programming error discovered at registration (startup) time, never at
// runtime.
func (r *Registry) Register(name string, scheme NetScheme, ctor func() Instance) *Descriptor {
	id := classID(name)
	if existing, ok := r.byID[id]; ok && existing.Name != name {
		panic(fmt.Sprintf("serialize: classId collision between %q and %q", existing.Name, name))
	}
	d := &Descriptor{ClassID: id, Name: name, Scheme: scheme, New: ctor}
	r.byID[id] = d
	r.byName[name] = d
	return d
}

// DescriptorFor looks up a class's descriptor by name.
func (r *Registry) DescriptorFor(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Encode serializes obj as classId:u8 followed by its scheme fields in
// order, per spec.md §4.1.
func (r *Registry) Encode(obj Instance) ([]byte, error) {
	d, ok := r.byName[obj.ClassName()]
	if !ok {
		return nil, fmt.Errorf("serialize: encode %q: %w", obj.ClassName(), ErrUnknownClassID)
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(d.ClassID)

	for _, f := range d.Scheme {
		if err := r.encodeField(buf, f, obj.GetField(f.Name)); err != nil {
			return nil, fmt.Errorf("serialize: encode %q.%s: %w", obj.ClassName(), f.Name, err)
		}
	}
	return buf.Bytes(), nil
}

// Decode deserializes a class instance from data, looking up its
// descriptor by the leading classId byte.
func (r *Registry) Decode(data []byte) (Instance, error) {
	buf := bytes.NewReader(data)
	classIDByte, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("serialize: decode: %w", ErrTruncatedBuffer)
	}

	d, ok := r.byID[classIDByte]
	if !ok {
		return nil, fmt.Errorf("serialize: decode classId %d: %w", classIDByte, ErrUnknownClassID)
	}

	obj := d.New()
	for _, f := range d.Scheme {
		val, err := r.decodeField(buf, f)
		if err != nil {
			return nil, fmt.Errorf("serialize: decode %q.%s: %w", d.Name, f.Name, err)
		}
		obj.SetField(f.Name, val)
	}
	return obj, nil
}

func (r *Registry) encodeField(buf *bytes.Buffer, f Field, value interface{}) error {
	switch f.Type {
	case FieldUint8:
		v, _ := value.(uint8)
		return buf.WriteByte(v)

	case FieldInt16:
		v, _ := value.(int16)
		return binary.Write(buf, binary.BigEndian, v)

	case FieldInt32:
		v, _ := value.(int32)
		return binary.Write(buf, binary.BigEndian, v)

	case FieldFloat32:
		v, _ := value.(float32)
		return binary.Write(buf, binary.BigEndian, v)

	case FieldString:
		if _, pruned := value.(prunedString); pruned {
			return binary.Write(buf, binary.BigEndian, uint16(prunedMarker))
		}
		s, _ := value.(string)
		units := utf16.Encode([]rune(s))
		if len(units) >= prunedMarker {
			return fmt.Errorf("string too long to encode: %d code units", len(units))
		}
		if err := binary.Write(buf, binary.BigEndian, uint16(len(units))); err != nil {
			return err
		}
		for _, u := range units {
			if err := binary.Write(buf, binary.BigEndian, u); err != nil {
				return err
			}
		}
		return nil

	case FieldClassInstance:
		inst, ok := value.(Instance)
		if !ok || inst == nil {
			// A 0-length payload is decodeField's nil sentinel: it reads
			// a uint32 length prefix unconditionally, so the nil case
			// must still write one (of value 0), not a single byte.
			return binary.Write(buf, binary.BigEndian, uint32(0))
		}
		encoded, err := r.Encode(inst)
		if err != nil {
			return err
		}
		if err := binary.Write(buf, binary.BigEndian, uint32(len(encoded))); err != nil {
			return err
		}
		_, err = buf.Write(encoded)
		return err

	case FieldList:
		items, _ := value.([]interface{})
		if len(items) > 0xFFFF {
			return fmt.Errorf("list too long to encode: %d items", len(items))
		}
		if err := binary.Write(buf, binary.BigEndian, uint16(len(items))); err != nil {
			return err
		}
		for _, item := range items {
			if err := r.encodeField(buf, Field{Name: f.Name, Type: f.ItemType}, item); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown field type %d", f.Type)
	}
}

func (r *Registry) decodeField(buf *bytes.Reader, f Field) (interface{}, error) {
	switch f.Type {
	case FieldUint8:
		v, err := buf.ReadByte()
		if err != nil {
			return nil, ErrTruncatedBuffer
		}
		return v, nil

	case FieldInt16:
		var v int16
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, ErrTruncatedBuffer
		}
		return v, nil

	case FieldInt32:
		var v int32
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, ErrTruncatedBuffer
		}
		return v, nil

	case FieldFloat32:
		var v float32
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, ErrTruncatedBuffer
		}
		return v, nil

	case FieldString:
		var length uint16
		if err := binary.Read(buf, binary.BigEndian, &length); err != nil {
			return nil, ErrTruncatedBuffer
		}
		if length == prunedMarker {
			return Pruned, nil
		}
		units := make([]uint16, length)
		for i := range units {
			if err := binary.Read(buf, binary.BigEndian, &units[i]); err != nil {
				return nil, ErrTruncatedBuffer
			}
		}
		return string(utf16.Decode(units)), nil

	case FieldClassInstance:
		var n uint32
		if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
			return nil, ErrTruncatedBuffer
		}
		if n == 0 {
			return nil, nil
		}
		raw := make([]byte, n)
		if _, err := buf.Read(raw); err != nil {
			return nil, ErrTruncatedBuffer
		}
		return r.Decode(raw)

	case FieldList:
		var count uint16
		if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
			return nil, ErrTruncatedBuffer
		}
		items := make([]interface{}, count)
		for i := range items {
			v, err := r.decodeField(buf, Field{Name: f.Name, Type: f.ItemType})
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	default:
		return nil, fmt.Errorf("unknown field type %d", f.Type)
	}
}
