package emit

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/lower"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/types"
)

// Resolve implements except.ExceptionTypeRegistry: it looks up name among
// the exception types this assembly (or a prior RegisterExceptionType
// call) registered, declares its parameterless constructor as an imported
// call if not already declared, and loads its type handle into a fresh
// register of the method currently being lowered.
func (e *Emitter) Resolve(c *lower.Context, name string) (t *types.Type, ctor backend.Function, typeHandle backend.Reg, err error) {
	t, ok := e.excTypes[name]
	if !ok {
		return nil, nil, 0, jerrors.NotFound(jerrors.PhaseEmit, "exception type", name)
	}

	ctorMethod := parameterlessCtor(t)
	if ctorMethod == nil {
		return nil, nil, 0, jerrors.NotFound(jerrors.PhaseEmit, "parameterless constructor", name)
	}

	// The constructor's prototype is prepared import-shaped. DeclareMethod
	// returns the declaration already made for it when this assembly
	// defines the constructor (DeclareAssembly declared it up front);
	// otherwise it declares the constructor as an import here.
	proto, perr := sig.Prepare(e.Reg, ctorMethod, true)
	if perr != nil {
		return nil, nil, 0, jerrors.Wrap(jerrors.PhaseEmit, jerrors.KindBadFormat, perr, "prepare constructor for "+name)
	}
	ctor, err = e.DeclareMethod(ctorMethod, proto)
	if err != nil {
		return nil, nil, 0, err
	}

	handleObj, err := e.TypeHandle(t)
	if err != nil {
		return nil, nil, 0, err
	}
	typeHandle = c.B.NewReg()
	c.B.LoadObjectRef(typeHandle, handleObj)

	return t, ctor, typeHandle, nil
}

// parameterlessCtor finds t's own (not inherited) instance constructor
// taking no parameters, the one throw_new always targets.
func parameterlessCtor(t *types.Type) *types.Method {
	for _, m := range t.Methods {
		if m.IsRTSpecialName && m.Name == ".ctor" && !m.IsStatic && len(m.Parameters) == 0 {
			return m
		}
	}
	return nil
}
