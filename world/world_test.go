package world

import (
	"testing"

	"netcode/core"
)

func core2(x, y float64) core.Vector2 { return core.Vector2{X: x, Y: y} }

func TestAddAssignsIncreasingIds(t *testing.T) {
	w := New()
	a := NewPhysicalObject2D("Ship")
	b := NewPhysicalObject2D("Ship")

	idA := w.Add(a)
	idB := w.Add(b)

	if idA == 0 || idB == 0 {
		t.Fatalf("expected nonzero ids, got %d and %d", idA, idB)
	}
	if idA == idB {
		t.Fatalf("expected distinct ids, got %d twice", idA)
	}
}

func TestNewIdSkipsExplicitlyAssignedId(t *testing.T) {
	w := New()
	shadow := NewPhysicalObject2D("Ship")
	shadow.SetID(ClientIDSpace + 5)
	w.Add(shadow)

	authoritative := NewPhysicalObject2D("Ship")
	id := w.Add(authoritative)

	if id >= ClientIDSpace {
		t.Fatalf("expected an id below ClientIDSpace, got %d", id)
	}
}

func TestRemoveMissingObject(t *testing.T) {
	w := New()
	if err := w.Remove(42); err == nil {
		t.Fatal("expected error removing missing object")
	}
}

func TestRemoveThenGet(t *testing.T) {
	w := New()
	obj := NewPhysicalObject2D("Ship")
	id := w.Add(obj)

	if err := w.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := w.Get(id); ok {
		t.Fatal("expected object to be gone after Remove")
	}
}

func TestForEachStopsEarly(t *testing.T) {
	w := New()
	for i := 0; i < 5; i++ {
		w.Add(NewPhysicalObject2D("Ship"))
	}

	visited := 0
	w.ForEach(func(GameObject) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Fatalf("visited = %d, want 2", visited)
	}
}

func TestSyncToCopiesSchemeFieldsOnly(t *testing.T) {
	src := NewPhysicalObject2D("Ship")
	src.Position = core2(3, 4)
	src.Angle = 1.5
	src.Bending = BendingState{Increment: 1, Increments: 5}

	dst := NewPhysicalObject2D("Ship")
	dst.SyncTo(src)

	if dst.Position != src.Position || dst.Angle != src.Angle {
		t.Fatalf("SyncTo did not copy scheme fields: %+v", dst)
	}
	if dst.Bending.Increments != 0 {
		t.Fatalf("SyncTo leaked transient bending state: %+v", dst.Bending)
	}
}

func TestSaveCopyAndRestore(t *testing.T) {
	obj := NewPhysicalObject2D("Ship")
	obj.Position = core2(1, 1)
	obj.SaveCopy()

	obj.Position = core2(99, 99)
	obj.RestoreSaved()

	if obj.Position != core2(1, 1) {
		t.Fatalf("RestoreSaved did not rewind position: %+v", obj.Position)
	}
}

func TestOwnerDefaultsToNone(t *testing.T) {
	obj := NewPhysicalObject2D("Ship")
	if _, ok := obj.Owner(); ok {
		t.Fatal("expected no owner by default")
	}
	obj.SetOwner(3)
	playerID, ok := obj.Owner()
	if !ok || playerID != 3 {
		t.Fatalf("Owner() = %d, %v, want 3, true", playerID, ok)
	}
}

func TestBendToConvergesAfterIncrements(t *testing.T) {
	obj := NewPhysicalObject2D("Ship")
	obj.Position = core2(0, 0)
	obj.Angle = 0

	obj.BendTo(core2(10, 0), 0, 1.0, 5)
	if !obj.BendingActive() {
		t.Fatal("expected bending to be active right after BendTo")
	}

	for i := 0; i < 5; i++ {
		obj.ApplyBendIncrement(1.0)
	}

	if obj.BendingActive() {
		t.Fatal("expected bending to be finished after 5 increments")
	}
	if obj.Position.X < 9.999 || obj.Position.X > 10.001 {
		t.Fatalf("Position.X = %v, want ~10", obj.Position.X)
	}
}

// TestBendToPartialPercentLeavesObjectPartwayThere mirrors spec.md's S5
// scenario: a percent below 1.0 means one correction does not fully
// converge the object to the target.
func TestBendToPartialPercentLeavesObjectPartwayThere(t *testing.T) {
	obj := NewPhysicalObject2D("Ship")
	obj.Position = core2(0, 0)

	obj.BendTo(core2(10, 0), 0, 0.5, 10)
	for i := 0; i < 10; i++ {
		obj.ApplyBendIncrement(1.0)
	}

	if obj.Position.X < 4.999 || obj.Position.X > 5.001 {
		t.Fatalf("Position.X = %v, want ~5 (50%% of the way to 10)", obj.Position.X)
	}
}

func TestBendToSnapsBelowEpsilon(t *testing.T) {
	obj := NewPhysicalObject2D("Ship")
	obj.Position = core2(5, 5)

	obj.BendTo(core2(5, 5), 0, 1.0, 10)

	if obj.BendingActive() {
		t.Fatal("expected no bending work for a negligible correction")
	}
	if obj.Position != core2(5, 5) {
		t.Fatalf("Position = %+v, want unchanged", obj.Position)
	}
}
