package lower

import (
	"testing"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/backend/fake"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/stack"
	"github.com/Itay2805/tinydotnet/types"
)

// testPrimitives builds a minimal registry populated with just enough
// primitive types for the lower package's opcode tests to exercise the
// INT32/INT64/INTPTR/FLOAT/O categories.
func testPrimitives(t *testing.T) (*types.Registry, types.Primitives) {
	t.Helper()
	reg := types.NewRegistry()
	obj := &types.Type{Name: "Object", StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	p := types.Primitives{
		Object:  obj,
		Boolean: &types.Type{Name: "Boolean", StackCategory: types.CategoryInt32, ManagedSize: 1, StackSize: 4},
		Byte:    &types.Type{Name: "Byte", StackCategory: types.CategoryInt32, ManagedSize: 1, StackSize: 4},
		SByte:   &types.Type{Name: "SByte", StackCategory: types.CategoryInt32, ManagedSize: 1, StackSize: 4},
		Int16:   &types.Type{Name: "Int16", StackCategory: types.CategoryInt32, ManagedSize: 2, StackSize: 4},
		UInt16:  &types.Type{Name: "UInt16", StackCategory: types.CategoryInt32, ManagedSize: 2, StackSize: 4},
		Int32:   &types.Type{Name: "Int32", StackCategory: types.CategoryInt32, ManagedSize: 4, StackSize: 4},
		UInt32:  &types.Type{Name: "UInt32", StackCategory: types.CategoryInt32, ManagedSize: 4, StackSize: 4},
		Int64:   &types.Type{Name: "Int64", StackCategory: types.CategoryInt64, ManagedSize: 8, StackSize: 8},
		UInt64:  &types.Type{Name: "UInt64", StackCategory: types.CategoryInt64, ManagedSize: 8, StackSize: 8},
		IntPtr:  &types.Type{Name: "IntPtr", StackCategory: types.CategoryIntPtr, ManagedSize: 8, StackSize: 8},
		UIntPtr: &types.Type{Name: "UIntPtr", StackCategory: types.CategoryIntPtr, ManagedSize: 8, StackSize: 8},
		Single:  &types.Type{Name: "Single", StackCategory: types.CategoryFloat, ManagedSize: 4, StackSize: 8},
		Double:  &types.Type{Name: "Double", StackCategory: types.CategoryFloat, ManagedSize: 8, StackSize: 8},
	}
	reg.Bootstrap(p)
	reg.ObjectType = obj
	return reg, p
}

// stubThrower records every ThrowNamed/Rethrow call instead of emitting
// any real unwind machinery, standing in for the except package's
// region-aware lowerer the way backend/fake stands in for a real backend.
type stubThrower struct {
	thrown   []string
	rethrown []backend.Reg
}

func (s *stubThrower) ThrowNamed(c *Context, excTypeName string) error {
	s.thrown = append(s.thrown, excTypeName)
	c.B.Return([]backend.Reg{c.alloc()})
	return nil
}

func (s *stubThrower) Rethrow(c *Context, exc backend.Reg) error {
	s.rethrown = append(s.rethrown, exc)
	c.B.Return([]backend.Reg{exc})
	return nil
}

// newTestContext builds a Context for a static method named name taking no
// declared parameters, backed by a fresh fake module/builder/stack
// interpreter, with a stubThrower wired in as both Thrower and (via a nil
// RegionGuard) a permissive branch validator.
func newTestContext(t *testing.T, reg *types.Registry, m *types.Method, maxStack int) (*Context, *fake.Module, backend.Function, *stubThrower) {
	t.Helper()
	mod := fake.NewModule()
	fn, err := mod.DeclareFunction(m.Name, nil, []backend.ValueKind{backend.ValPtr, backend.ValI32})
	if err != nil {
		t.Fatalf("DeclareFunction: %v", err)
	}
	b := mod.NewBuilder(fn)
	in := stack.New(reg, m.Name, maxStack)

	proto := &sig.Prototype{Method: m, ResultShape: sig.ResultValue}
	c := NewContext(reg, mod, b, in, m, proto, Shim{})
	th := &stubThrower{}
	c.Thrower = th
	return c, mod, fn, th
}

// bindByteShims declares memcpy/managed-memcpy/memset externals and binds
// each to a no-op host that copies nothing, enough to exercise the
// write-barrier dispatch paths without modelling a byte-accurate heap.
func bindByteShims(t *testing.T, mod *fake.Module) Shim {
	t.Helper()
	declare := func(name string) backend.Function {
		fn, err := mod.DeclareExternal(name, []backend.ValueKind{backend.ValPtr, backend.ValPtr, backend.ValIPtr}, []backend.ValueKind{backend.ValPtr, backend.ValI32})
		if err != nil {
			t.Fatalf("DeclareExternal(%s): %v", name, err)
		}
		return fn
	}
	memcpy := declare("memcpy")
	managedMemcpy := declare("managed_memcpy")
	managedRefMemcpy := declare("managed_ref_memcpy")
	memset := declare("memset")

	noop := func(args []fake.Value) (fake.Value, fake.Value, error) {
		return fake.Value{}, fake.Value{}, nil
	}
	for _, name := range []string{"memcpy", "managed_memcpy", "managed_ref_memcpy", "memset"} {
		if err := mod.BindHost(name, noop); err != nil {
			t.Fatalf("BindHost(%s): %v", name, err)
		}
	}
	return Shim{
		Memcpy:           memcpy,
		Memset:           memset,
		ManagedMemcpy:    managedMemcpy,
		ManagedRefMemcpy: managedRefMemcpy,
	}
}
