package except

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/lower"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/types"
)

// Throw lowers throw for an exception already held in excReg at fromOffset:
// walks the protected-region map in declaration order, jumping to the
// first clause whose try-range contains fromOffset and which can catch it
// (a finally/fault clause always can; a catch clause can when excType is
// statically known to be assignable to its CatchType, or, when excType is
// nil — the unknown-static-type case every rethrow and call-site
// propagation is in — via a runtime isinstance test). If no clause
// applies, the method returns, propagating the exception through the
// exception result slot.
func (l *Lowerer) Throw(c *lower.Context, fromOffset int, excReg backend.Reg, excType *types.Type) error {
	for _, r := range l.regions {
		if !r.tryContains(fromOffset) {
			continue
		}
		if r.Clause.Kind != types.ClauseCatch {
			c.B.Br(r.HandlerLabel)
			return nil
		}
		if excType != nil && l.reg.IsVerifierAssignableTo(excType, r.Clause.CatchType) {
			c.B.Br(r.HandlerLabel)
			return nil
		}
		if err := l.dispatchToCatch(c, r, excReg); err != nil {
			return err
		}
	}
	c.B.Return([]backend.Reg{excReg})
	return nil
}

// ThrowNamed implements lower.Thrower: constructs a fresh instance of the
// named runtime exception type via the standard newobj path and dispatches
// Throw against it, at c.Offset.
func (l *Lowerer) ThrowNamed(c *lower.Context, excTypeName string) error {
	return l.ThrowNewAt(c, c.Offset, excTypeName)
}

// Rethrow implements lower.Thrower for a call-site exception test: the
// exception's static type is unknown, so every candidate catch clause gets
// a runtime isinstance check.
func (l *Lowerer) Rethrow(c *lower.Context, exc backend.Reg) error {
	return l.Throw(c, c.Offset, exc, nil)
}

// dispatchToCatch emits the conditional jump that probes excReg against a
// single catch clause's type at runtime before jumping into its handler.
func (l *Lowerer) dispatchToCatch(c *lower.Context, r *RegionInfo, excReg backend.Reg) error {
	if c.Shim.Isinstance == nil {
		return jerrors.CheckFailed(jerrors.PhaseExcept, l.method.Name, -1, "isinstance helper not linked")
	}
	typeHandle, err := l.typeHandleFor(c, r.Clause.CatchType)
	if err != nil {
		return err
	}
	_, matches := c.B.Call(c.Shim.Isinstance, []backend.Reg{excReg, typeHandle})

	zero := c.Stack.AllocPublic()
	c.B.MoveImmI64(zero, 0)
	skip := c.B.NewLabel()
	c.B.CompareBranch(matches, zero, backend.ValPtr, backend.CmpEQ, false, skip)
	c.B.Br(r.HandlerLabel)
	c.B.BindLabel(skip)
	return nil
}

// typeHandleFor resolves the register holding t's runtime type handle via
// the wired ExceptionTypeRegistry, reusing Resolve's three-value return
// even though only the handle is needed here.
func (l *Lowerer) typeHandleFor(c *lower.Context, t *types.Type) (backend.Reg, error) {
	if l.Registry == nil {
		return 0, jerrors.CheckFailed(jerrors.PhaseExcept, l.method.Name, c.Offset,
			"no exception type registry wired to resolve catch type %s", t.Name)
	}
	_, _, typeHandle, err := l.Registry.Resolve(c, t.Namespace+"."+t.Name)
	return typeHandle, err
}

// ThrowNewAt lowers throw_new(T) at a known CIL offset: resolves T's
// parameterless constructor and type handle through Registry, allocates via
// the standard newobj path, runs the constructor, and dispatches Throw
// against the freshly constructed instance. An exception escaping the
// constructor itself is propagated by NewObj's own call to c.Thrower
// (wired to this same Lowerer), which runs before ThrowNewAt's own Throw
// call, as an unknown-static-type rethrow.
func (l *Lowerer) ThrowNewAt(c *lower.Context, offset int, excTypeName string) error {
	if l.Registry == nil {
		return jerrors.CheckFailed(jerrors.PhaseExcept, l.method.Name, offset,
			"no exception type registry wired for throw_new %q", excTypeName)
	}
	t, ctor, typeHandle, err := l.Registry.Resolve(c, excTypeName)
	if err != nil {
		return err
	}
	proto := &sig.Prototype{
		ResultShape: sig.ResultValue,
		PreparedParams: []sig.PreparedParam{
			{Name: "this", Type: t, Kind: sig.ParamScalar},
		},
	}
	if err := c.NewObj(t, typeHandle, ctor, proto); err != nil {
		return err
	}
	slot, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	return l.Throw(c, offset, slot.Reg, t)
}
