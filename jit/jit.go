// Package jit implements the top-level Compile/CompileAll orchestration:
// for one method, it wires together Signature Preparation, the Symbol
// Emitter, the Stack Abstract Interpreter, Opcode Lowering and Exception &
// Protected-Region Lowering, then walks the method's decoded instruction
// stream driving all four. For an assembly, it runs that per-method
// compilation over every defined method and hands the result to the
// Module Finaliser.
package jit

import (
	"go.uber.org/multierr"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/emit"
	"github.com/Itay2805/tinydotnet/finalize"
	"github.com/Itay2805/tinydotnet/internal/tracez"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// CompileAll declares every type/method/static field of asm against mod
// (via a fresh emit.Emitter), lowers every method body defined in asm, and
// finalises the result through fz. A method whose body fails to lower does
// not abort the batch: CompileAll keeps going and reports every failure
// together, the way a single `go build` invocation surfaces every package's
// errors instead of stopping at the first.
func CompileAll(reg *types.Registry, mod backend.Module, asm *types.Assembly, fz *finalize.Finalizer) (err error) {
	log := tracez.Named("jit")
	log.Sugar().Debugf("compiling assembly %s (%d types)", asm.Name, len(asm.Types))

	e, declErr := emit.New(mod, reg)
	if declErr != nil {
		return declErr
	}
	if declErr := e.DeclareAssembly(asm); declErr != nil {
		return declErr
	}

	for _, m := range asm.DefinedMethods() {
		proto, ok := e.Proto(m)
		if !ok {
			err = multierr.Append(err, jerrors.NotFound(jerrors.PhaseEmit, "declared prototype", m.Name))
			continue
		}
		if cErr := Compile(reg, e, m, proto); cErr != nil {
			err = multierr.Append(err, cErr)
		}
	}
	if err != nil {
		return err
	}

	return fz.Finalize(mod, asm, e.Functions(), e.Statics())
}
