package finalize

import (
	"testing"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/backend/fake"
	"github.com/Itay2805/tinydotnet/types"
)

func declareFunc(t *testing.T, mod *fake.Module, name string) backend.Function {
	t.Helper()
	fn, err := mod.DeclareFunction(name, nil, []backend.ValueKind{backend.ValPtr})
	if err != nil {
		t.Fatalf("DeclareFunction(%s): %v", name, err)
	}
	b := mod.NewBuilder(fn)
	zero := b.NewReg()
	b.MoveImmI64(zero, 0)
	b.Return([]backend.Reg{zero})
	return fn
}

func TestFinalizePublishesAndPatchesCompiledFunction(t *testing.T) {
	object := &types.Type{Name: "Object", Namespace: "System", StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	widget := &types.Type{Name: "Widget", Namespace: "N", BaseType: object, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	m := &types.Method{Name: "M", DeclaringType: widget, IsStatic: true, VTableIndex: -1}
	widget.Methods = []*types.Method{m}

	asm := &types.Assembly{Name: "Test", Types: []*types.Type{widget}}

	mod := fake.NewModule()
	fn := declareFunc(t, mod, m.MangledMethodName())

	functions := map[*types.Method]backend.Function{m: fn}
	statics := map[*types.Field]backend.Address{}

	fz := New(fake.NewGC())
	if err := fz.Finalize(mod, asm, functions, statics); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if m.CompiledFunction != fn {
		t.Fatalf("expected CompiledFunction to be patched to the declared function, got %v", m.CompiledFunction)
	}

	if _, _, err := mod.Invoke(m.MangledMethodName(), nil); err != nil {
		t.Fatalf("Invoke after Finalize: %v", err)
	}
}

func TestFinalizeMissingFunctionReported(t *testing.T) {
	object := &types.Type{Name: "Object", StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	widget := &types.Type{Name: "Widget", BaseType: object, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	m := &types.Method{Name: "M", DeclaringType: widget, IsStatic: true, VTableIndex: -1}
	widget.Methods = []*types.Method{m}
	asm := &types.Assembly{Name: "Test", Types: []*types.Type{widget}}

	mod := fake.NewModule()
	fz := New(fake.NewGC())
	if err := fz.Finalize(mod, asm, map[*types.Method]backend.Function{}, nil); err == nil {
		t.Fatal("expected Finalize to report the missing compiled function for M")
	}
}

func TestFinalizePatchesVTableForVirtualType(t *testing.T) {
	object := &types.Type{Name: "Object", StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	base := &types.Type{Name: "Base", BaseType: object, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	virtualM := &types.Method{Name: "Virt", DeclaringType: base, IsVirtual: true, VTableIndex: 0}
	base.Methods = []*types.Method{virtualM}
	base.VirtualMethods = []*types.Method{virtualM}

	asm := &types.Assembly{Name: "Test", Types: []*types.Type{base}}

	mod := fake.NewModule()
	fn := declareFunc(t, mod, virtualM.MangledMethodName())

	fz := New(fake.NewGC())
	functions := map[*types.Method]backend.Function{virtualM: fn}
	if err := fz.Finalize(mod, asm, functions, nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if base.VTablePtr == nil {
		t.Fatal("expected Base's VTablePtr to be patched")
	}
	vt, ok := base.VTablePtr.(*fake.Object)
	if !ok {
		t.Fatalf("expected VTablePtr to be a *fake.Object, got %T", base.VTablePtr)
	}
	slot, ok := vt.Slots[0]
	if !ok || slot.Fn == nil {
		t.Fatalf("expected slot 0 of the vtable to hold Virt's compiled function, got %+v", slot)
	}
}

func TestFinalizeSkipsVTableForInterfacesAndLeafValueTypes(t *testing.T) {
	iface := &types.Type{Name: "IWidget", IsInterface: true, StackCategory: types.CategoryO}
	leaf := &types.Type{Name: "Leaf", IsValueType: true, StackCategory: types.CategoryValueType}
	asm := &types.Assembly{Name: "Test", Types: []*types.Type{iface, leaf}}

	mod := fake.NewModule()
	fz := New(fake.NewGC())
	if err := fz.Finalize(mod, asm, map[*types.Method]backend.Function{}, nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if iface.VTablePtr != nil || leaf.VTablePtr != nil {
		t.Fatal("expected no vtable patched for an interface or a type with no virtual methods")
	}
}

func TestFinalizeRegistersGCRootsForReferenceStatics(t *testing.T) {
	object := &types.Type{Name: "Object", StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	int32Type := &types.Type{Name: "Int32", StackCategory: types.CategoryInt32, ManagedSize: 4, StackSize: 4}
	widget := &types.Type{Name: "Widget", BaseType: object, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}

	refField := &types.Field{Name: "Shared", DeclaringType: widget, FieldType: widget, IsStatic: true}
	valField := &types.Field{Name: "Count", DeclaringType: widget, FieldType: int32Type, IsStatic: true}

	asm := &types.Assembly{Name: "Test", Types: []*types.Type{widget}}

	mod := fake.NewModule()
	refAddr, err := mod.DeclareStatic(refField.MangledFieldName(), 8)
	if err != nil {
		t.Fatalf("DeclareStatic: %v", err)
	}
	valAddr, err := mod.DeclareStatic(valField.MangledFieldName(), 4)
	if err != nil {
		t.Fatalf("DeclareStatic: %v", err)
	}

	gc := fake.NewGC()
	fz := New(gc)
	statics := map[*types.Field]backend.Address{refField: refAddr, valField: valAddr}
	if err := fz.Finalize(mod, asm, map[*types.Method]backend.Function{}, statics); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	roots := gc.Roots()
	if len(roots) != 1 || roots[0] != refAddr {
		t.Fatalf("Roots() = %v, want exactly [refAddr]", roots)
	}
}
