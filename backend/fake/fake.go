// Package fake provides an in-memory GC and MIR-builder double implementing
// the backend package's contracts, used by every other package's tests and
// by the compiler's own end-to-end seed scenarios. It deliberately does not
// model a byte-accurate heap: slots are addressed by an opaque integer key
// the caller (lower/except/finalize) chooses consistently, not by real
// memory layout. That is enough to exercise the JIT's control flow,
// dispatch, and exception machinery without a real MIR/JIT linkage, the
// same way an in-process sandboxed runtime stands in for a real one in
// tests that care about control flow, not code generation.
package fake

import (
	"fmt"
	"sync"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/types"
)

// Value is a tagged register value: exactly one of I/F/Obj/Addr/Fn is live,
// selected by Kind.
type Value struct {
	Kind backend.ValueKind
	I    int64
	F    float64
	Obj  *Object
	Addr *Address
	Fn   *fn // set only for values loaded out of a vtable slot
}

// Object is a heap allocation. Its Slots map is keyed by the caller-chosen
// integer offsets lower/finalize use consistently across a compilation
// (see package doc).
type Object struct {
	Type    *types.Type
	Slots   map[int]Value
	VTable  []backend.Function
	IsArray bool
	Length  int
}

func (*Object) objectHandle() {}

// VTableSlot is the reserved Slots key every object uses to carry its
// vtable pointer: a Value wrapping a synthetic *Object whose own Slots
// hold one Value{Fn: ...} per vtable entry. Real field offsets are always
// >= 0, so this negative key never collides with a declared field.
const VTableSlot = -1

// NewVTableObject builds the synthetic vtable object for fns, suitable for
// storing at an instance's Slots[VTableSlot] by the Module Finaliser.
func NewVTableObject(fns []backend.Function) *Object {
	o := &Object{Slots: make(map[int]Value, len(fns))}
	for i, f := range fns {
		o.Slots[i] = Value{Kind: backend.ValPtr, Fn: f.(*fn)}
	}
	return o
}

// Address is a managed-reference (by-ref) handle: either into an Object's
// slots (heap) or into a standalone stack block (AllocaBlock), at Offset.
type Address struct {
	Obj    *Object // nil if this is a stack block
	Stack  map[int]Value
	Offset int
}

func (*Address) addressHandle() {}

// ErrNullReference marks a fake-backend null-reference fault. Nothing in
// this tree returns it: lower's null checks are emitted compare-and-branch
// instructions that throw NullReferenceException.
var ErrNullReference = fmt.Errorf("null reference")

// GC is the in-memory garbage collector double.
type GC struct {
	mu    sync.Mutex
	roots []backend.Address
}

// NewGC constructs an empty in-memory GC.
func NewGC() *GC { return &GC{} }

func (g *GC) New(t *types.Type, size int) (backend.Object, error) {
	o := &Object{Type: t, Slots: make(map[int]Value)}
	if t != nil && t.VTablePtr != nil {
		o.Slots[VTableSlot] = Value{Kind: backend.ValPtr, Obj: t.VTablePtr.(*Object)}
	}
	return o, nil
}

// PublishVTable builds the synthetic vtable object for t's virtual-method
// slots, the handle the Module Finaliser stores in t.VTablePtr so New can
// populate Slots[VTableSlot] on every later allocation of t.
func (g *GC) PublishVTable(t *types.Type, fns []backend.Function) (any, error) {
	return NewVTableObject(fns), nil
}

func (g *GC) Update(obj backend.Object, offset int, value backend.Object) {
	o := obj.(*Object)
	o.Slots[offset] = Value{Kind: backend.ValPtr, Obj: value.(*Object)}
}

func (g *GC) UpdateRef(addr backend.Address, value backend.Object) {
	a := addr.(*Address)
	v := Value{Kind: backend.ValPtr}
	if value != nil {
		v.Obj = value.(*Object)
	}
	if a.Obj != nil {
		a.Obj.Slots[a.Offset] = v
	} else {
		a.Stack[a.Offset] = v
	}
}

func (g *GC) AddRoot(addr backend.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots = append(g.roots, addr)
}

func (g *GC) HeapFindFast(addr backend.Address) backend.Object {
	a := addr.(*Address)
	if a.Obj == nil {
		return nil
	}
	return a.Obj
}

// Roots returns the registered static GC roots, for test assertions.
func (g *GC) Roots() []backend.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]backend.Address(nil), g.roots...)
}
