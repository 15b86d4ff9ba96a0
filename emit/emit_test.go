package emit

import (
	"testing"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/backend/fake"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/types"
)

func newTestRegistry() (*types.Registry, types.Primitives) {
	reg := types.NewRegistry()
	object := &types.Type{Name: "Object", Namespace: "System", StackCategory: types.CategoryO, StackSize: 8, ManagedSize: 8}
	reg.ObjectType = object
	reg.ArrayBase = &types.Type{Name: "Array", Namespace: "System", StackCategory: types.CategoryO, StackSize: 8, BaseType: object}

	p := types.Primitives{
		Int32:  &types.Type{Name: "Int32", StackCategory: types.CategoryInt32, StackSize: 4, ManagedSize: 4},
		Object: object,
	}
	reg.Bootstrap(p)
	return reg, p
}

func TestNewDeclaresRuntimeShims(t *testing.T) {
	reg, _ := newTestRegistry()
	mod := fake.NewModule()

	e, err := New(mod, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	shim := e.Shim()
	if shim.Memcpy == nil || shim.Memset == nil || shim.ManagedMemcpy == nil ||
		shim.ManagedRefMemcpy == nil || shim.Isinstance == nil ||
		shim.DynamicCastToIface == nil || shim.GetArrayType == nil || shim.GCNew == nil {
		t.Fatalf("New did not declare every runtime helper shim: %+v", shim)
	}
}

func TestDeclareAssemblyDeclaresMethodsFieldsAndExceptionTypes(t *testing.T) {
	reg, p := newTestRegistry()

	exception := &types.Type{Name: "Exception", Namespace: "System", BaseType: reg.ObjectType, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	widgetException := &types.Type{Name: "WidgetException", Namespace: "N", BaseType: exception, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}

	counter := &types.Field{Name: "Counter", FieldType: p.Int32, IsStatic: true}
	widget := &types.Type{Name: "Widget", Namespace: "N", BaseType: reg.ObjectType, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	widget.Fields = []*types.Field{counter}
	counter.DeclaringType = widget

	doIt := &types.Method{Name: "DoIt", DeclaringType: widget, IsStatic: true, VTableIndex: -1}
	widget.Methods = []*types.Method{doIt}
	widgetException.Methods = nil

	asm := &types.Assembly{Name: "Test", Types: []*types.Type{widget, widgetException}}

	mod := fake.NewModule()
	e, err := New(mod, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.DeclareAssembly(asm); err != nil {
		t.Fatalf("DeclareAssembly: %v", err)
	}

	if _, ok := e.Function(doIt); !ok {
		t.Fatal("expected DoIt to have a declared function")
	}
	if _, ok := e.Proto(doIt); !ok {
		t.Fatal("expected DoIt to have a prepared prototype")
	}
	if _, ok := e.StaticAddr(counter); !ok {
		t.Fatal("expected Counter to have a declared static address")
	}
	if got, ok := e.excTypes["N.WidgetException"]; !ok || got != widgetException {
		t.Fatalf("expected WidgetException to be registered as an exception type, got %v ok=%v", got, ok)
	}
}

func TestDeclareMethodCachesAcrossCalls(t *testing.T) {
	reg, _ := newTestRegistry()
	widget := &types.Type{Name: "Widget", Namespace: "N", BaseType: reg.ObjectType, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	m := &types.Method{Name: "M", DeclaringType: widget, IsStatic: true, VTableIndex: -1}

	mod := fake.NewModule()
	e, err := New(mod, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	proto, err := sig.Prepare(reg, m, false)
	if err != nil {
		t.Fatalf("sig.Prepare: %v", err)
	}

	f1, err := e.DeclareMethod(m, proto)
	if err != nil {
		t.Fatalf("DeclareMethod: %v", err)
	}
	f2, err := e.DeclareMethod(m, proto)
	if err != nil {
		t.Fatalf("DeclareMethod (second call): %v", err)
	}
	if f1 != f2 {
		t.Fatal("DeclareMethod did not return the cached declaration on a second call")
	}
}

func TestDeclareMethodExternalUsesImportDeclaration(t *testing.T) {
	reg, _ := newTestRegistry()
	widget := &types.Type{Name: "Widget", Namespace: "N", BaseType: reg.ObjectType, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	m := &types.Method{Name: "External", DeclaringType: widget, IsStatic: true, IsInternalCall: true, VTableIndex: -1}

	mod := fake.NewModule()
	e, err := New(mod, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	proto, err := sig.Prepare(reg, m, false)
	if err != nil {
		t.Fatalf("sig.Prepare: %v", err)
	}
	if !proto.External {
		t.Fatal("expected an internal-call method to prepare as External")
	}
	if _, err := e.DeclareMethod(m, proto); err != nil {
		t.Fatalf("DeclareMethod: %v", err)
	}
	// An external declaration has no backing instruction stream to invoke;
	// Invoke must fail cleanly rather than panic.
	if _, _, err := mod.Invoke(m.MangledMethodName(), nil); err == nil {
		t.Fatal("expected Invoke against an unbound external function to fail")
	}
}

func TestTypeHandleAndStringLiteralIntern(t *testing.T) {
	reg, _ := newTestRegistry()
	widget := &types.Type{Name: "Widget", Namespace: "N", BaseType: reg.ObjectType, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}

	mod := fake.NewModule()
	e, err := New(mod, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h1, err := e.TypeHandle(widget)
	if err != nil {
		t.Fatalf("TypeHandle: %v", err)
	}
	h2, err := e.TypeHandle(widget)
	if err != nil {
		t.Fatalf("TypeHandle (second call): %v", err)
	}
	if h1 != h2 {
		t.Fatal("TypeHandle did not intern the handle across calls")
	}

	s1, err := e.DeclareStringLiteral("hello")
	if err != nil {
		t.Fatalf("DeclareStringLiteral: %v", err)
	}
	s2, err := e.DeclareStringLiteral("hello")
	if err != nil {
		t.Fatalf("DeclareStringLiteral (second call): %v", err)
	}
	if s1 != s2 {
		t.Fatal("DeclareStringLiteral did not intern the literal across calls")
	}
	if got, ok := mod.StringValue(s1.(*fake.Object)); !ok || got != "hello" {
		t.Fatalf("StringValue = %q, %v; want \"hello\", true", got, ok)
	}
}

func TestIsExceptionTypeWalksBaseChain(t *testing.T) {
	object := &types.Type{Name: "Object"}
	exception := &types.Type{Name: "Exception", BaseType: object}
	argException := &types.Type{Name: "ArgumentException", BaseType: exception}
	widget := &types.Type{Name: "Widget", BaseType: object}

	if !isExceptionType(argException) {
		t.Fatal("ArgumentException derives from Exception transitively, expected true")
	}
	if isExceptionType(widget) {
		t.Fatal("Widget does not derive from Exception, expected false")
	}
	if !isExceptionType(exception) {
		t.Fatal("Exception itself should count as an exception type")
	}
}

// TestSignatureKindsMatchesPreparedParams is a smoke check that
// signatureKinds produces the same flattened shape DeclareMethod actually
// uses for backend.ValueKind lists; this and callIndirectShape in package
// jit must stay in lockstep since call-site shapes are rebuilt independently
// of the declared function's own.
func TestSignatureKindsMatchesPreparedParams(t *testing.T) {
	reg, p := newTestRegistry()
	widget := &types.Type{Name: "Widget", Namespace: "N", BaseType: reg.ObjectType, StackCategory: types.CategoryO, ManagedSize: 8, StackSize: 8}
	m := &types.Method{
		Name: "Add", DeclaringType: widget, IsStatic: true, VTableIndex: -1,
		ReturnType: p.Int32,
		Parameters: []*types.Param{{Name: "a", Type: p.Int32}, {Name: "b", Type: p.Int32}},
	}
	proto, err := sig.Prepare(reg, m, false)
	if err != nil {
		t.Fatalf("sig.Prepare: %v", err)
	}
	params, results := signatureKinds(proto)
	if len(params) != 2 || params[0] != backend.ValI32 || params[1] != backend.ValI32 {
		t.Fatalf("signatureKinds params = %v, want [ValI32 ValI32]", params)
	}
	if len(results) != 2 || results[0] != backend.ValPtr || results[1] != backend.ValI32 {
		t.Fatalf("signatureKinds results = %v, want [ValPtr ValI32]", results)
	}
}
