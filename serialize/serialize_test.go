package serialize

import (
	"errors"
	"testing"
)

type testObj struct {
	name   string
	fields map[string]interface{}
}

func newTestObj() Instance {
	return &testObj{name: "Test", fields: map[string]interface{}{}}
}

func (o *testObj) ClassName() string { return o.name }

func (o *testObj) Scheme() NetScheme {
	return NetScheme{
		{Name: "id", Type: FieldUint8},
		{Name: "x", Type: FieldFloat32},
		{Name: "label", Type: FieldString},
	}
}

func (o *testObj) GetField(name string) interface{} { return o.fields[name] }

func (o *testObj) SetField(name string, value interface{}) { o.fields[name] = value }

func newRegistry() *Registry {
	r := NewRegistry()
	r.Register("Test", newTestObj().Scheme(), newTestObj)
	return r
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := newRegistry()
	obj := newTestObj().(*testObj)
	obj.fields["id"] = uint8(7)
	obj.fields["x"] = float32(3.5)
	obj.fields["label"] = "hello"

	data, err := r.Encode(obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := r.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got := decoded.GetField("id"); got != uint8(7) {
		t.Errorf("id = %v, want 7", got)
	}
	if got := decoded.GetField("x"); got != float32(3.5) {
		t.Errorf("x = %v, want 3.5", got)
	}
	if got := decoded.GetField("label"); got != "hello" {
		t.Errorf("label = %v, want hello", got)
	}
}

func TestEncodeDecodeDeterministic(t *testing.T) {
	r := newRegistry()
	obj := newTestObj().(*testObj)
	obj.fields["id"] = uint8(1)
	obj.fields["x"] = float32(1.0)
	obj.fields["label"] = "a"

	a, err := r.Encode(obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := r.Encode(obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("encode is not deterministic: %v != %v", a, b)
	}
}

func TestPrunedStringRoundTrip(t *testing.T) {
	r := newRegistry()
	obj := newTestObj().(*testObj)
	obj.fields["id"] = uint8(2)
	obj.fields["x"] = float32(0)
	obj.fields["label"] = Pruned

	data, err := r.Encode(obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := r.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := decoded.GetField("label"); got != Pruned {
		t.Errorf("label = %v, want Pruned marker", got)
	}
}

func TestEmptyStringIsNotPruned(t *testing.T) {
	r := newRegistry()
	obj := newTestObj().(*testObj)
	obj.fields["id"] = uint8(0)
	obj.fields["x"] = float32(0)
	obj.fields["label"] = ""

	data, err := r.Encode(obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := r.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := decoded.GetField("label"); got != "" {
		t.Errorf("label = %v, want empty string", got)
	}
}

func TestDecodeUnknownClassID(t *testing.T) {
	r := NewRegistry()
	_, err := r.Decode([]byte{0xAB})
	if !errors.Is(err, ErrUnknownClassID) {
		t.Errorf("err = %v, want ErrUnknownClassID", err)
	}
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	r := newRegistry()
	obj := newTestObj().(*testObj)
	obj.fields["id"] = uint8(1)
	obj.fields["x"] = float32(1.0)
	obj.fields["label"] = "hi"

	data, err := r.Encode(obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = r.Decode(data[:len(data)-1])
	if !errors.Is(err, ErrTruncatedBuffer) {
		t.Errorf("err = %v, want ErrTruncatedBuffer", err)
	}
}

func TestEncodeUnknownClassName(t *testing.T) {
	r := NewRegistry()
	obj := &testObj{name: "Ghost", fields: map[string]interface{}{}}
	_, err := r.Encode(obj)
	if !errors.Is(err, ErrUnknownClassID) {
		t.Errorf("err = %v, want ErrUnknownClassID", err)
	}
}

func TestListFieldRoundTrip(t *testing.T) {
	r := NewRegistry()
	type listObj struct {
		fields map[string]interface{}
	}
	scheme := NetScheme{{Name: "items", Type: FieldList, ItemType: FieldUint8}}
	ctor := func() Instance {
		return &listInstance{fields: map[string]interface{}{}}
	}
	r.Register("ListHolder", scheme, ctor)

	obj := ctor().(*listInstance)
	obj.fields["items"] = []interface{}{uint8(1), uint8(2), uint8(3)}

	data, err := r.Encode(obj)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := r.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	items, _ := decoded.GetField("items").([]interface{})
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	for i, want := range []uint8{1, 2, 3} {
		if items[i] != want {
			t.Errorf("items[%d] = %v, want %v", i, items[i], want)
		}
	}
}

type listInstance struct {
	fields map[string]interface{}
}

func (o *listInstance) ClassName() string                        { return "ListHolder" }
func (o *listInstance) Scheme() NetScheme                         { return NetScheme{{Name: "items", Type: FieldList, ItemType: FieldUint8}} }
func (o *listInstance) GetField(name string) interface{}         { return o.fields[name] }
func (o *listInstance) SetField(name string, value interface{})  { o.fields[name] = value }

type holderInstance struct {
	fields map[string]interface{}
}

func (o *holderInstance) ClassName() string { return "Holder" }
func (o *holderInstance) Scheme() NetScheme {
	return NetScheme{{Name: "child", Type: FieldClassInstance}}
}
func (o *holderInstance) GetField(name string) interface{}        { return o.fields[name] }
func (o *holderInstance) SetField(name string, value interface{}) { o.fields[name] = value }

func newHolderRegistry() *Registry {
	r := NewRegistry()
	r.Register("Test", newTestObj().Scheme(), newTestObj)
	r.Register("Holder", (&holderInstance{}).Scheme(), func() Instance {
		return &holderInstance{fields: map[string]interface{}{}}
	})
	return r
}

func TestClassInstanceFieldRoundTrip(t *testing.T) {
	r := newHolderRegistry()

	child := newTestObj().(*testObj)
	child.fields["id"] = uint8(3)
	child.fields["x"] = float32(1.5)
	child.fields["label"] = "child"

	holder := &holderInstance{fields: map[string]interface{}{"child": child}}

	data, err := r.Encode(holder)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := r.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	gotChild, ok := decoded.GetField("child").(*testObj)
	if !ok {
		t.Fatalf("child field = %#v, want *testObj", decoded.GetField("child"))
	}
	if gotChild.fields["id"] != uint8(3) || gotChild.fields["x"] != float32(1.5) || gotChild.fields["label"] != "child" {
		t.Fatalf("child = %+v, want id=3 x=1.5 label=child", gotChild.fields)
	}
}

func TestClassInstanceFieldRoundTripsNil(t *testing.T) {
	r := newHolderRegistry()

	holder := &holderInstance{fields: map[string]interface{}{"child": nil}}

	data, err := r.Encode(holder)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := r.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.GetField("child") != nil {
		t.Fatalf("child field = %#v, want nil", decoded.GetField("child"))
	}
}
