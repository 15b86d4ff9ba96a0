package except

import (
	"testing"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/backend/fake"
	"github.com/Itay2805/tinydotnet/lower"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/stack"
	"github.com/Itay2805/tinydotnet/types"
)

func testTypes() (object, exception, argException, widget *types.Type) {
	object = &types.Type{Name: "Object", StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	exception = &types.Type{Name: "Exception", Namespace: "System", BaseType: object, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	argException = &types.Type{Name: "ArgumentException", Namespace: "System", BaseType: exception, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	widget = &types.Type{Name: "Widget", BaseType: object, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	return
}

// stubRegistry implements ExceptionTypeRegistry: every Resolve call emits a
// new constant (s.next, incremented per call) into a fresh register and
// hands back the constructor the stub was built with, standing in for the
// emitter's real symbol resolution.
type stubRegistry struct {
	types map[string]*types.Type
	ctor  backend.Function
	next  int64
}

func (s *stubRegistry) Resolve(c *lower.Context, name string) (*types.Type, backend.Function, backend.Reg, error) {
	t, ok := s.types[name]
	if !ok {
		t = &types.Type{Name: name}
	}
	s.next++
	handle := c.Stack.AllocPublic()
	c.B.MoveImmI64(handle, s.next)
	return t, s.ctor, handle, nil
}

func bindNoopCtor(t *testing.T, mod *fake.Module, name string) backend.Function {
	t.Helper()
	fn, err := mod.DeclareExternal(name, []backend.ValueKind{backend.ValPtr}, []backend.ValueKind{backend.ValPtr, backend.ValI32})
	if err != nil {
		t.Fatalf("DeclareExternal(%s): %v", name, err)
	}
	if err := mod.BindHost(name, func(args []fake.Value) (fake.Value, fake.Value, error) {
		return fake.Value{}, fake.Value{}, nil
	}); err != nil {
		t.Fatalf("BindHost(%s): %v", name, err)
	}
	return fn
}

func bindGCNew(t *testing.T, mod *fake.Module) backend.Function {
	t.Helper()
	fn, err := mod.DeclareExternal("gc_new", []backend.ValueKind{backend.ValPtr, backend.ValIPtr}, []backend.ValueKind{backend.ValPtr, backend.ValPtr})
	if err != nil {
		t.Fatalf("DeclareExternal(gc_new): %v", err)
	}
	if err := mod.BindHost("gc_new", func(args []fake.Value) (fake.Value, fake.Value, error) {
		return fake.Value{}, fake.Value{Kind: backend.ValPtr, Obj: &fake.Object{Slots: map[int]fake.Value{}}}, nil
	}); err != nil {
		t.Fatalf("BindHost(gc_new): %v", err)
	}
	return fn
}

// newTestCtx builds a lower.Context for a static method named name, backed
// by a fresh fake module/builder/stack interpreter, with no Thrower/Regions
// wired yet: callers wire a *Lowerer themselves once it is built, the way
// emit would.
func newTestCtx(t *testing.T, reg *types.Registry, m *types.Method, maxStack int) (*lower.Context, *fake.Module) {
	t.Helper()
	mod := fake.NewModule()
	fn, err := mod.DeclareFunction(m.Name, nil, []backend.ValueKind{backend.ValPtr, backend.ValI32})
	if err != nil {
		t.Fatalf("DeclareFunction: %v", err)
	}
	b := mod.NewBuilder(fn)
	in := stack.New(reg, m.Name, maxStack)
	proto := &sig.Prototype{Method: m, ResultShape: sig.ResultValue}
	c := lower.NewContext(reg, mod, b, in, m, proto, lower.Shim{})
	return c, mod
}

func TestBuildMapRejectsFilterClause(t *testing.T) {
	reg := types.NewRegistry()
	_, exception, _, _ := testTypes()
	m := &types.Method{Name: "M", Body: &types.MethodBody{
		ExceptionClauses: []*types.ExceptionClause{
			{Kind: types.ClauseFilter, TryOffset: 0, TryLength: 5, HandlerOffset: 10, HandlerLength: 5, CatchType: exception},
		},
	}}
	mod := fake.NewModule()
	fn, _ := mod.DeclareFunction(m.Name, nil, nil)
	b := mod.NewBuilder(fn)
	in := stack.New(reg, m.Name, 8)

	if _, err := BuildMap(reg, m, b, in); err == nil {
		t.Fatal("expected filter clause to be rejected")
	}
}

func TestValidateBranchCrossingRejected(t *testing.T) {
	reg := types.NewRegistry()
	_, exception, _, _ := testTypes()
	m := &types.Method{Name: "M", Body: &types.MethodBody{
		ExceptionClauses: []*types.ExceptionClause{
			{Kind: types.ClauseCatch, TryOffset: 0, TryLength: 10, HandlerOffset: 20, HandlerLength: 10, CatchType: exception},
		},
	}}
	mod := fake.NewModule()
	fn, _ := mod.DeclareFunction(m.Name, nil, nil)
	b := mod.NewBuilder(fn)
	in := stack.New(reg, m.Name, 8)

	l, err := BuildMap(reg, m, b, in)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}

	if err := l.ValidateBranch(m, 3, 7); err != nil {
		t.Fatalf("branch within the same try-region should be allowed: %v", err)
	}
	if err := l.ValidateBranch(m, 3, 15); err == nil {
		t.Fatal("expected a branch leaving the try-region to be rejected")
	}
	if err := l.ValidateBranch(m, 30, 0); err == nil {
		t.Fatal("expected a branch into the try-region from outside to be rejected")
	}
}

func TestThrowDispatchesToStaticallyAssignableCatch(t *testing.T) {
	reg := types.NewRegistry()
	object, exception, argException, _ := testTypes()
	_ = object

	m := &types.Method{Name: "M", Body: &types.MethodBody{
		ExceptionClauses: []*types.ExceptionClause{
			{Kind: types.ClauseCatch, TryOffset: 0, TryLength: 10, HandlerOffset: 20, HandlerLength: 10, CatchType: exception},
		},
	}}
	c, mod := newTestCtx(t, reg, m, 8)

	in := c.Stack
	l, err := BuildMap(reg, m, c.B, in)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	c.Thrower = l
	c.Regions = l

	marker := c.Stack.AllocPublic()
	excReg := c.Stack.AllocPublic()
	c.B.MoveImmI64(excReg, 0)

	// Instruction at offset 5 (inside the try-region) raises argException,
	// which is assignable to the catch clause's Exception type: it must
	// jump straight to the handler label without an isinstance probe.
	c.Offset = 5
	if err := l.Throw(c, 5, excReg, argException); err != nil {
		t.Fatalf("Throw: %v", err)
	}
	c.B.MoveImmI64(marker, 999) // dead code: must never execute if the branch above fires
	c.B.Return([]backend.Reg{marker})

	c.B.BindLabel(l.regions[0].HandlerLabel)
	c.B.Return([]backend.Reg{excReg})

	exc, _, err := mod.Invoke(m.Name, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if exc.I != 0 {
		t.Fatalf("expected the handler's own return (excReg == 0), got %+v", exc)
	}
}

func TestThrowPropagatesWhenNoEnclosingRegion(t *testing.T) {
	reg := types.NewRegistry()
	_, exception, _, _ := testTypes()
	m := &types.Method{Name: "M", Body: &types.MethodBody{}}
	c, mod := newTestCtx(t, reg, m, 8)

	l, err := BuildMap(reg, m, c.B, c.Stack)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	c.Thrower = l

	excReg := c.Stack.AllocPublic()
	c.B.MoveImmI64(excReg, 42)
	if err := l.Throw(c, 0, excReg, exception); err != nil {
		t.Fatalf("Throw: %v", err)
	}

	exc, _, err := mod.Invoke(m.Name, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if exc.I != 42 {
		t.Fatalf("expected the uncaught exception to propagate as the method's return, got %+v", exc)
	}
}

func TestThrowNewAtConstructsAndDispatches(t *testing.T) {
	reg := types.NewRegistry()
	_, exception, argException, _ := testTypes()
	m := &types.Method{Name: "M", Body: &types.MethodBody{
		ExceptionClauses: []*types.ExceptionClause{
			{Kind: types.ClauseCatch, TryOffset: 0, TryLength: 50, HandlerOffset: 100, HandlerLength: 10, CatchType: exception},
		},
	}}
	c, mod := newTestCtx(t, reg, m, 8)
	c.Shim.GCNew = bindGCNew(t, mod)

	ctor := bindNoopCtor(t, mod, "ArgumentException_ctor")
	l, err := BuildMap(reg, m, c.B, c.Stack)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	l.Registry = &stubRegistry{types: map[string]*types.Type{"System.ArgumentException": argException}, ctor: ctor}
	c.Thrower = l
	c.Regions = l

	c.Offset = 10
	if err := l.ThrowNamed(c, "System.ArgumentException"); err != nil {
		t.Fatalf("ThrowNamed: %v", err)
	}
	c.B.Return([]backend.Reg{c.Stack.AllocPublic()})

	c.B.BindLabel(l.regions[0].HandlerLabel)
	handled := c.Stack.AllocPublic()
	c.B.MoveImmI64(handled, 1)
	c.B.Return([]backend.Reg{handled})

	exc, _, err := mod.Invoke(m.Name, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if exc.I != 1 {
		t.Fatalf("expected the constructed exception to dispatch to the enclosing catch, got %+v", exc)
	}
}

func TestLeaveOutsideAnyRegionRejected(t *testing.T) {
	reg := types.NewRegistry()
	m := &types.Method{Name: "M", Body: &types.MethodBody{}}
	c, _ := newTestCtx(t, reg, m, 8)
	l, err := BuildMap(reg, m, c.B, c.Stack)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	target := c.B.NewLabel()
	if err := l.Leave(c, 0, 100, target); err == nil {
		t.Fatal("expected leave outside any protected region to be rejected")
	}
}

// bindRaise declares and binds a host function that always returns a
// non-nil exception object, the fake backend's representation of "an
// exception occurred" (ExcReg is ValPtr-kind with Obj set; the no-exception
// sentinel is the zero Value with Obj nil).
func bindRaise(t *testing.T, mod *fake.Module) backend.Function {
	t.Helper()
	fn, err := mod.DeclareExternal("raise", nil, []backend.ValueKind{backend.ValPtr, backend.ValPtr})
	if err != nil {
		t.Fatalf("DeclareExternal(raise): %v", err)
	}
	if err := mod.BindHost("raise", func(args []fake.Value) (fake.Value, fake.Value, error) {
		return fake.Value{Kind: backend.ValPtr, Obj: &fake.Object{Slots: map[int]fake.Value{}}}, fake.Value{}, nil
	}); err != nil {
		t.Fatalf("BindHost(raise): %v", err)
	}
	return fn
}

func TestLeaveChainsThroughSingleFinally(t *testing.T) {
	reg := types.NewRegistry()
	m := &types.Method{Name: "M", Body: &types.MethodBody{
		ExceptionClauses: []*types.ExceptionClause{
			{Kind: types.ClauseFinally, TryOffset: 0, TryLength: 10, HandlerOffset: 20, HandlerLength: 10},
		},
	}}
	c, mod := newTestCtx(t, reg, m, 8)
	l, err := BuildMap(reg, m, c.B, c.Stack)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}

	// c.ExcReg starts pointed at a register that was never written, so its
	// zero Value (Obj nil) reads as "no exception in flight" the same way a
	// real method's entry does before its dispatch loop sets it up.
	c.ExcReg = c.Stack.AllocPublic()

	afterLeave := c.B.NewLabel()

	ran := c.Stack.AllocPublic()
	c.B.MoveImmI64(ran, 0)

	if err := l.Leave(c, 3, 50, afterLeave); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	deadCode := c.Stack.AllocPublic()
	c.B.MoveImmI64(deadCode, 999)
	c.B.Return([]backend.Reg{deadCode})

	c.B.BindLabel(l.regions[0].HandlerLabel)
	c.B.MoveImmI64(ran, 1)
	if err := l.EndFinally(c, 25); err != nil {
		t.Fatalf("EndFinally: %v", err)
	}

	c.B.BindLabel(afterLeave)
	c.B.Return([]backend.Reg{ran})

	exc, _, err := mod.Invoke(m.Name, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if exc.I != 1 {
		t.Fatalf("expected the finally body to have run before reaching the leave's target, got %+v", exc)
	}
}

func TestEndFinallyRepropagatesWhenLastInChainAndExcRegSet(t *testing.T) {
	reg := types.NewRegistry()
	m := &types.Method{Name: "M", Body: &types.MethodBody{
		ExceptionClauses: []*types.ExceptionClause{
			{Kind: types.ClauseFault, TryOffset: 0, TryLength: 10, HandlerOffset: 20, HandlerLength: 10},
		},
	}}
	c, mod := newTestCtx(t, reg, m, 8)
	l, err := BuildMap(reg, m, c.B, c.Stack)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}

	raise := bindRaise(t, mod)

	// Simulate the fault handler's entry having been reached with an
	// in-flight exception already sitting in c.ExcReg (a fault's only entry
	// path: an exception propagating out of its try-region).
	excReg, _ := c.B.Call(raise, nil)
	c.ExcReg = excReg

	target := c.B.NewLabel()

	// EndTarget/LastInChain must be fixed before EndFinally is lowered: the
	// emitted Br reads the Label value at lowering time, not through a
	// closure over the region.
	l.regions[0].EndTarget = target
	l.regions[0].LastInChain = true

	c.B.BindLabel(l.regions[0].HandlerLabel)
	if err := l.EndFinally(c, 25); err != nil {
		t.Fatalf("EndFinally: %v", err)
	}

	c.B.BindLabel(target)
	unreached := c.Stack.AllocPublic()
	c.B.MoveImmI64(unreached, -1)
	c.B.Return([]backend.Reg{unreached})

	exc, _, err := mod.Invoke(m.Name, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if exc.Obj == nil {
		t.Fatalf("expected the in-flight exception to repropagate via return, got %+v", exc)
	}
}
