package stack

import (
	"testing"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/types"
)

func testRegistry(t *testing.T) (*types.Registry, types.Primitives) {
	t.Helper()
	reg := types.NewRegistry()
	obj := &types.Type{Name: "Object", StackCategory: types.CategoryO}
	i32 := &types.Type{Name: "Int32", StackCategory: types.CategoryInt32}
	prims := types.Primitives{Object: obj, Int32: i32}
	reg.Bootstrap(prims)
	reg.ObjectType = obj
	return reg, prims
}

func TestPushPopOrder(t *testing.T) {
	reg, p := testRegistry(t)
	in := New(reg, "M", 8)
	if _, err := in.Push(p.Int32); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := in.Push(p.Object); err != nil {
		t.Fatalf("push: %v", err)
	}
	top, err := in.Pop()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if top.Type != p.Object {
		t.Fatalf("expected Object on top, got %v", top.Type.Name)
	}
	if in.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", in.Depth())
	}
}

func TestPopUnderflow(t *testing.T) {
	reg, _ := testRegistry(t)
	in := New(reg, "M", 8)
	if _, err := in.Pop(); err == nil {
		t.Fatal("expected underflow error")
	}
}

func TestPushOverflow(t *testing.T) {
	reg, p := testRegistry(t)
	in := New(reg, "M", 1)
	if _, err := in.Push(p.Int32); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := in.Push(p.Int32); err == nil {
		t.Fatal("expected max-depth error")
	}
}

func TestForwardBranchWidens(t *testing.T) {
	reg, p := testRegistry(t)
	base := &types.Type{Name: "Base", StackCategory: types.CategoryO}
	derived := &types.Type{Name: "Derived", StackCategory: types.CategoryO, BaseType: base}
	_ = p

	in := New(reg, "M", 8)
	in.cur = []Slot{{Type: derived}}
	if err := in.RecordBranchTarget(100, backend.Label(1), false); err != nil {
		t.Fatalf("record: %v", err)
	}

	in.cur = []Slot{{Type: base}}
	if err := in.RecordBranchTarget(100, backend.Label(1), false); err != nil {
		t.Fatalf("merge: %v", err)
	}
	snap := in.snapshots[100]
	if snap.Slots[0].Type != base {
		t.Fatalf("expected widen to Base, got %v", snap.Slots[0].Type.Name)
	}
}

func TestBackwardBranchRejectsWidening(t *testing.T) {
	reg, _ := testRegistry(t)
	base := &types.Type{Name: "Base", StackCategory: types.CategoryO}
	derived := &types.Type{Name: "Derived", StackCategory: types.CategoryO, BaseType: base}

	in := New(reg, "M", 8)
	in.cur = []Slot{{Type: derived}}
	if err := in.RecordBranchTarget(50, backend.Label(1), true); err != nil {
		t.Fatalf("record: %v", err)
	}
	in.cur = []Slot{{Type: base}}
	if err := in.RecordBranchTarget(50, backend.Label(1), true); err == nil {
		t.Fatal("expected backward-branch mismatch error")
	}
}

func TestEnterFromSnapshotRestores(t *testing.T) {
	reg, p := testRegistry(t)
	in := New(reg, "M", 8)
	in.cur = []Slot{{Type: p.Int32}}
	if err := in.RecordBranchTarget(10, backend.Label(2), false); err != nil {
		t.Fatalf("record: %v", err)
	}
	in.Reset()
	ok, err := in.EnterFromSnapshot(10)
	if err != nil || !ok {
		t.Fatalf("expected restore, got ok=%v err=%v", ok, err)
	}
	if in.Depth() != 1 || in.cur[0].Type != p.Int32 {
		t.Fatalf("restored stack wrong: %+v", in.cur)
	}
}

func TestSeedCatch(t *testing.T) {
	reg, _ := testRegistry(t)
	excType := &types.Type{Name: "Exception", StackCategory: types.CategoryO}
	in := New(reg, "M", 8)
	in.cur = []Slot{{}, {}} // pretend something was left on the stack
	in.SeedCatch(excType)
	if in.Depth() != 1 || in.cur[0].Type != excType {
		t.Fatalf("expected single exception slot, got %+v", in.cur)
	}
}

func TestPushInterfaceAllocatesTwoRegs(t *testing.T) {
	reg, _ := testRegistry(t)
	iface := &types.Type{Name: "IFoo", IsInterface: true, StackCategory: types.CategoryO}
	in := New(reg, "M", 8)
	s, err := in.PushInterface(iface)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !s.IsIface || s.Reg == s.Reg2 {
		t.Fatalf("expected distinct two-word interface slot, got %+v", s)
	}
}
