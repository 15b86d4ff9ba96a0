// Package finalize implements the Module Finaliser: the last step once
// every method of an assembly has been lowered. It publishes the backend
// module, patches each compiled method's back-pointer onto its
// types.Method, builds and patches every concrete type's vtable, and
// registers static-field GC roots — all under a single mutex, since
// publishing and vtable patching touch state ResolvedAddress/New consult
// concurrently from other assemblies' compilations.
package finalize

import (
	"sync"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// Finalizer serialises finalisation across every assembly sharing gc: two
// assemblies' CompileAll calls may run on separate goroutines, but only one
// may publish/patch vtables at a time, the same "global code context"
// mutual-exclusion a real MIR backend's link step requires.
type Finalizer struct {
	mu sync.Mutex
	gc backend.GC
}

// New builds a Finalizer that registers GC roots and publishes vtables
// through gc.
func New(gc backend.GC) *Finalizer {
	return &Finalizer{gc: gc}
}

// Finalize publishes mod and wires asm's compiled methods and types back
// into the type graph: functions maps every method of asm (including
// imported ones) to its declared backend.Function, and statics maps every
// static field of asm to its declared backend.Address, both as built by
// emit.Emitter over the course of compiling asm.
func (fz *Finalizer) Finalize(mod backend.Module, asm *types.Assembly, functions map[*types.Method]backend.Function, statics map[*types.Field]backend.Address) error {
	fz.mu.Lock()
	defer fz.mu.Unlock()

	if err := mod.Publish(); err != nil {
		return jerrors.Wrap(jerrors.PhaseFinalize, jerrors.KindOutOfResources, err, "publish module for assembly "+asm.Name)
	}

	for _, m := range asm.DefinedMethods() {
		f, ok := functions[m]
		if !ok {
			return jerrors.NotFound(jerrors.PhaseFinalize, "compiled function", m.Name)
		}
		m.CompiledFunction = f
	}

	for _, t := range asm.Types {
		if err := fz.patchVTable(t, functions); err != nil {
			return err
		}
	}

	for f, addr := range statics {
		if rootWorthy(f.FieldType) {
			fz.gc.AddRoot(addr)
		}
	}

	return nil
}

// patchVTable builds t's vtable from its already-compiled virtual methods
// and stores the opaque handle backend.GC.New consults at allocation time.
// Interfaces and types declaring no virtual methods (value types, sealed
// leaf classes with only static members) have nothing to patch.
func (fz *Finalizer) patchVTable(t *types.Type, functions map[*types.Method]backend.Function) error {
	if t.IsInterface || len(t.VirtualMethods) == 0 {
		return nil
	}

	fns := make([]backend.Function, len(t.VirtualMethods))
	for i, m := range t.VirtualMethods {
		f, ok := functions[m]
		if !ok {
			return jerrors.NotFound(jerrors.PhaseFinalize, "vtable slot function", m.Name)
		}
		fns[i] = f
	}

	vt, err := fz.gc.PublishVTable(t, fns)
	if err != nil {
		return jerrors.Wrap(jerrors.PhaseFinalize, jerrors.KindOutOfResources, err, "publish vtable for "+t.Name)
	}
	t.VTablePtr = vt
	return nil
}

// rootWorthy reports whether a static field of type t can ever hold a
// managed reference, the condition under which its storage must be
// registered as a GC root: a direct reference/by-ref field, or a value
// type whose own layout embeds one.
func rootWorthy(t *types.Type) bool {
	if t.StackCategory == types.CategoryO || t.StackCategory == types.CategoryRef {
		return true
	}
	return len(t.ManagedPointerOffsets) > 0
}
