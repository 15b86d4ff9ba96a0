package main

// demo.go builds a small, self-contained assembly used by both -list/-call
// and the interactive TUI: tdnjit has no CIL loader of its own (decoding the
// on-disk assembly format is the out-of-scope Loader's job), so the debug
// CLI compiles a handful of hand-built methods instead of a file argument,
// the same way a linker's smoke test exercises its own pipeline against a
// synthetic object file rather than a real one.

import (
	"github.com/Itay2805/tinydotnet/types"
)

// demoParam describes one compiled method's calling surface for the CLI:
// just enough to prompt for and parse int32 arguments, the only kind this
// CLI's demo methods take.
type demoParam struct {
	Name string
}

// demoMethod pairs a compiled *types.Method with the CLI-facing parameter
// names Compile itself does not track (types.Param carries a Type, not a
// display label beyond its own Name, which this reuses).
type demoMethod struct {
	Method *types.Method
	Params []demoParam
}

// buildDemoAssembly returns a registry and assembly exercising a static
// arithmetic method (Add) and a backward-branch loop (SumTo), the same two
// shapes jit's own end-to-end tests compile.
func buildDemoAssembly() (*types.Registry, *types.Assembly, []demoMethod) {
	reg := types.NewRegistry()
	object := &types.Type{Name: "Object", Namespace: "System", StackCategory: types.CategoryO, StackSize: 8, ManagedSize: 8}
	reg.ObjectType = object
	reg.ArrayBase = &types.Type{Name: "Array", Namespace: "System", StackCategory: types.CategoryO, StackSize: 8, BaseType: object}

	p := types.Primitives{
		Boolean: &types.Type{Name: "Boolean", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 4},
		Char:    &types.Type{Name: "Char", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 4},
		SByte:   &types.Type{Name: "SByte", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 1},
		Byte:    &types.Type{Name: "Byte", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 1},
		Int16:   &types.Type{Name: "Int16", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 2},
		UInt16:  &types.Type{Name: "UInt16", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 2},
		Int32:   &types.Type{Name: "Int32", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 4},
		UInt32:  &types.Type{Name: "UInt32", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 4},
		Int64:   &types.Type{Name: "Int64", StackCategory: types.CategoryInt64, StackSize: 8, ManagedSize: 8},
		UInt64:  &types.Type{Name: "UInt64", StackCategory: types.CategoryInt64, StackSize: 8, ManagedSize: 8},
		IntPtr:  &types.Type{Name: "IntPtr", StackCategory: types.CategoryIntPtr, StackSize: 8, ManagedSize: 8},
		UIntPtr: &types.Type{Name: "UIntPtr", StackCategory: types.CategoryIntPtr, StackSize: 8, ManagedSize: 8},
		Single:  &types.Type{Name: "Single", StackCategory: types.CategoryFloat, StackSize: 4, ManagedSize: 4},
		Double:  &types.Type{Name: "Double", StackCategory: types.CategoryFloat, StackSize: 8, ManagedSize: 8},
		Object:  object,
	}
	reg.Bootstrap(p)

	mathType := &types.Type{Name: "Math", Namespace: "Demo", BaseType: object, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}

	add := &types.Method{
		Name: "Add", DeclaringType: mathType, IsStatic: true, ReturnType: p.Int32, VTableIndex: -1,
		Parameters: []*types.Param{{Name: "a", Type: p.Int32}, {Name: "b", Type: p.Int32}},
		Body: &types.MethodBody{
			InitLocals:    true,
			MaxStackDepth: 2,
			Instructions: []types.Instruction{
				{Offset: 0, Length: 1, Opcode: types.OpLdArg, Index: 0},
				{Offset: 1, Length: 1, Opcode: types.OpLdArg, Index: 1},
				{Offset: 2, Length: 1, Opcode: types.OpAdd},
				{Offset: 3, Length: 1, Opcode: types.OpRet},
			},
		},
	}

	sumTo := &types.Method{
		Name: "SumTo", DeclaringType: mathType, IsStatic: true, ReturnType: p.Int32, VTableIndex: -1,
		Parameters: []*types.Param{{Name: "n", Type: p.Int32}},
		Locals:     []*types.Local{{Type: p.Int32}, {Type: p.Int32}}, // [0]=acc, [1]=i
		Body: &types.MethodBody{
			InitLocals:    true,
			MaxStackDepth: 2,
			Instructions: []types.Instruction{
				{Offset: 0, Length: 1, Opcode: types.OpLdcI4, IntValue: 0},
				{Offset: 1, Length: 1, Opcode: types.OpStLoc, Index: 0},
				{Offset: 2, Length: 1, Opcode: types.OpLdcI4, IntValue: 1},
				{Offset: 3, Length: 1, Opcode: types.OpStLoc, Index: 1},
				{Offset: 4, Length: 1, Opcode: types.OpBr, BranchTarget: 13},
				{Offset: 5, Length: 1, Opcode: types.OpLdLoc, Index: 0},
				{Offset: 6, Length: 1, Opcode: types.OpLdLoc, Index: 1},
				{Offset: 7, Length: 1, Opcode: types.OpAdd},
				{Offset: 8, Length: 1, Opcode: types.OpStLoc, Index: 0},
				{Offset: 9, Length: 1, Opcode: types.OpLdLoc, Index: 1},
				{Offset: 10, Length: 1, Opcode: types.OpLdcI4, IntValue: 1},
				{Offset: 11, Length: 1, Opcode: types.OpAdd},
				{Offset: 12, Length: 1, Opcode: types.OpStLoc, Index: 1},
				{Offset: 13, Length: 1, Opcode: types.OpLdLoc, Index: 1},
				{Offset: 14, Length: 1, Opcode: types.OpLdArg, Index: 0},
				{Offset: 15, Length: 1, Opcode: types.OpBLE, BranchTarget: 5},
				{Offset: 16, Length: 1, Opcode: types.OpLdLoc, Index: 0},
				{Offset: 17, Length: 1, Opcode: types.OpRet},
			},
		},
	}

	mathType.Methods = []*types.Method{add, sumTo}

	asm := &types.Assembly{Name: "Demo", Types: []*types.Type{mathType}}
	methods := []demoMethod{
		{Method: add, Params: []demoParam{{Name: "a"}, {Name: "b"}}},
		{Method: sumTo, Params: []demoParam{{Name: "n"}}},
	}
	return reg, asm, methods
}
