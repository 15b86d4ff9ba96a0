// Package jit implements the top-level Compile/CompileAll orchestration:
// for one method, it wires together Signature Preparation, the Symbol
// Emitter, the Stack Abstract Interpreter, Opcode Lowering and Exception &
// Protected-Region Lowering, then walks the method's decoded instruction
// stream driving all four. For an assembly, it runs that per-method
// compilation over every defined method and hands the result to the
// Module Finaliser.
package jit

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/emit"
	"github.com/Itay2805/tinydotnet/except"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/lower"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/stack"
	"github.com/Itay2805/tinydotnet/types"
)

// Compile lowers m's entire body into the backend function e previously
// declared for it, wiring region-aware throw/leave dispatch and the
// operand stack interpreter around a straight walk of m.Body.Instructions.
// A method with no CIL body of its own (import-shaped per sig.Prepare) is
// skipped; its declaration alone is enough for callers to link against.
func Compile(reg *types.Registry, e *emit.Emitter, m *types.Method, proto *sig.Prototype) error {
	if proto.External {
		return nil
	}

	fn, ok := e.Function(m)
	if !ok {
		return jerrors.NotFound(jerrors.PhaseEmit, "declared function", m.Name)
	}

	b := e.Mod.NewBuilder(fn)
	in := stack.New(reg, m.Name, maxStackOf(m))

	lowerer, err := except.BuildMap(reg, m, b, in)
	if err != nil {
		return err
	}
	lowerer.Registry = e

	c := lower.NewContext(reg, e.Mod, b, in, m, proto, e.Shim())
	c.Thrower = lowerer
	c.Regions = lowerer

	c.BindParams()
	if m.Body.InitLocals {
		if err := c.InitLocals(); err != nil {
			return err
		}
	}

	d := &dispatcher{reg: reg, e: e, m: m, c: c, b: b, in: in, lowerer: lowerer, labels: make(map[int]backend.Label)}
	return d.run()
}

// maxStackOf reports the declared max operand-stack depth, defaulting to a
// conservative floor for a body that declares none.
func maxStackOf(m *types.Method) int {
	if m.Body.MaxStackDepth > 0 {
		return m.Body.MaxStackDepth
	}
	return 8
}

// dispatcher walks one method's instruction stream, driving the stack
// interpreter's snapshot/merge machinery around every branch and handing
// each opcode to the matching lower.Context method.
type dispatcher struct {
	reg *types.Registry
	e   *emit.Emitter
	m   *types.Method
	c   *lower.Context
	b   backend.Builder
	in  *stack.Interpreter
	lowerer *except.Lowerer

	// zeroExc is a scratch register holding a constant zero, reused for
	// every ret's exception result slot on the non-exceptional path.
	zeroExc backend.Reg
	zeroSet bool

	// labels caches the backend.Label assigned to every CIL offset a
	// branch in this method targets, created lazily on first reference so
	// a forward branch and its target both see the same Label value.
	labels map[int]backend.Label
}

func (d *dispatcher) labelFor(offset int) backend.Label {
	if l, ok := d.labels[offset]; ok {
		return l
	}
	l := d.b.NewLabel()
	d.labels[offset] = l
	return l
}

// prescanLabels walks every instruction once to register a backend.Label
// for each branch/switch/leave target ahead of the main lowering walk, so a
// backward edge's target (textually earlier than the instruction that jumps
// to it) already has a Label in d.labels by the time the walk reaches it and
// can bind it at the right physical position. Without this, a label first
// created while lowering the branch itself would never be bound at its
// target offset, since that offset was already walked past.
func (d *dispatcher) prescanLabels() {
	for _, ins := range d.m.Body.Instructions {
		switch ins.Opcode {
		case types.OpBr, types.OpBrTrue, types.OpBrFalse,
			types.OpBEQ, types.OpBNE, types.OpBGE, types.OpBGT, types.OpBLE, types.OpBLT,
			types.OpLeave:
			d.labelFor(ins.BranchTarget)
		case types.OpSwitch:
			for _, to := range ins.SwitchTargets {
				d.labelFor(to)
			}
			d.labelFor(ins.Offset + ins.Length)
		}
	}
}

func (d *dispatcher) run() error {
	instrs := d.m.Body.Instructions
	p := d.reg.Primitives()
	d.prescanLabels()

	for idx, ins := range instrs {
		d.c.Offset = ins.Offset

		if d.b != nil {
			if l, ok := d.labels[ins.Offset]; ok {
				d.b.BindLabel(l)
			}
		}

		if d.in.HasSnapshot(ins.Offset) {
			if _, err := d.in.EnterFromSnapshot(ins.Offset); err != nil {
				return err
			}
		}

		nextOffset := -1
		if idx+1 < len(instrs) {
			nextOffset = instrs[idx+1].Offset
		}

		if err := d.step(ins, nextOffset, p); err != nil {
			return err
		}
	}
	return nil
}

// step lowers one instruction. nextOffset is the following instruction's
// CIL offset (or -1 at the end of the body), used to merge fallthrough
// control flow into a recorded branch-target snapshot.
func (d *dispatcher) step(ins types.Instruction, nextOffset int, p types.Primitives) error {
	c := d.c

	switch ins.Opcode {
	case types.OpNop:
		return nil

	case types.OpLdArg:
		return d.loadArg(ins.Index, p)
	case types.OpStArg:
		return d.storeArg(ins.Index)
	case types.OpLdArgA:
		return d.loadArgAddr(ins.Index)

	case types.OpLdLoc:
		return c.LoadLocal(ins.Index, p.Int32)
	case types.OpStLoc:
		return c.StoreLocal(ins.Index)
	case types.OpLdLocA:
		byRefType, err := d.reg.ByRefTypeOf(d.m.Locals[ins.Index].Type)
		if err != nil {
			return jerrors.Wrap(jerrors.PhaseLower, jerrors.KindBadFormat, err, "ldloca")
		}
		return c.LoadLocalAddr(ins.Index, byRefType)

	case types.OpLdNull:
		slot, err := c.Stack.Push(types.NullType())
		if err != nil {
			return err
		}
		c.B.MoveImmI64(slot.Reg, 0)
		return nil
	case types.OpLdcI4:
		slot, err := c.Stack.Push(p.Int32)
		if err != nil {
			return err
		}
		c.B.MoveImmI32(slot.Reg, int32(ins.IntValue))
		return nil
	case types.OpLdcI8:
		slot, err := c.Stack.Push(p.Int64)
		if err != nil {
			return err
		}
		c.B.MoveImmI64(slot.Reg, ins.IntValue)
		return nil
	case types.OpLdcR4:
		slot, err := c.Stack.Push(p.Single)
		if err != nil {
			return err
		}
		c.B.MoveImmF32(slot.Reg, float32(ins.FloatValue))
		return nil
	case types.OpLdcR8:
		slot, err := c.Stack.Push(p.Double)
		if err != nil {
			return err
		}
		c.B.MoveImmF64(slot.Reg, ins.FloatValue)
		return nil
	case types.OpLdStr:
		return d.loadString(ins.StringValue, p)
	case types.OpDup:
		return d.dup()
	case types.OpPop:
		_, err := c.Stack.Pop()
		return err

	case types.OpAdd:
		return c.Arith(lower.OpAdd, ins.Unsigned)
	case types.OpSub:
		return c.Arith(lower.OpSub, ins.Unsigned)
	case types.OpMul:
		return c.Arith(lower.OpMul, ins.Unsigned)
	case types.OpDiv:
		return c.Arith(lower.OpDiv, ins.Unsigned)
	case types.OpRem:
		return c.Arith(lower.OpRem, ins.Unsigned)
	case types.OpAnd:
		return c.Arith(lower.OpAnd, ins.Unsigned)
	case types.OpOr:
		return c.Arith(lower.OpOr, ins.Unsigned)
	case types.OpXor:
		return c.Arith(lower.OpXor, ins.Unsigned)
	case types.OpNeg:
		return c.Neg()
	case types.OpNot:
		return c.Not()

	case types.OpConvI4:
		return c.Convert(lower.ConvI4, p.Int32)
	case types.OpConvI8:
		return c.Convert(lower.ConvI8, p.Int64)
	case types.OpConvIPtr:
		return c.Convert(lower.ConvIPtr, p.IntPtr)
	case types.OpConvR4:
		return c.Convert(lower.ConvR4, p.Single)
	case types.OpConvR8:
		return c.Convert(lower.ConvR8, p.Double)

	case types.OpCeq:
		return c.Compare(backend.CmpEQ, false, p.Int32)
	case types.OpCgt:
		return c.Compare(backend.CmpGT, ins.Unsigned, p.Int32)
	case types.OpClt:
		return c.Compare(backend.CmpLT, ins.Unsigned, p.Int32)

	case types.OpLdFld:
		return d.loadField(ins)
	case types.OpStFld:
		return d.storeField(ins)
	case types.OpLdFldA:
		return d.loadFieldAddr(ins)
	case types.OpLdSFld:
		return d.loadStatic(ins, p)
	case types.OpStSFld:
		return d.storeStatic(ins)
	case types.OpLdSFldA:
		return d.loadStaticAddr(ins)

	case types.OpNewArr:
		return d.newArr(ins)
	case types.OpLdLen:
		return c.LdLen(p.IntPtr)
	case types.OpStElem:
		return c.StElem(ins.Type)
	case types.OpLdElem:
		return c.LdElem(ins.Type, p.Int32)
	case types.OpLdElemA:
		byRefType, err := d.reg.ByRefTypeOf(ins.Type)
		if err != nil {
			return jerrors.Wrap(jerrors.PhaseLower, jerrors.KindBadFormat, err, "ldelema")
		}
		return c.LdElemA(ins.Type, byRefType)

	case types.OpIsInst:
		return d.isInstOrCastClass(ins, false)
	case types.OpCastClass:
		return d.isInstOrCastClass(ins, true)
	case types.OpBox:
		return d.box(ins, p)
	case types.OpUnboxAny:
		return c.UnboxAny(ins.Type)

	case types.OpCall:
		return d.call(ins)
	case types.OpCallVirt:
		return d.callVirt(ins)
	case types.OpNewObj:
		return d.newObj(ins)
	case types.OpRet:
		return d.ret()

	case types.OpBr:
		return d.branch(ins, nextOffset)
	case types.OpBrTrue:
		return d.condBranch(ins, nextOffset, false)
	case types.OpBrFalse:
		return d.condBranch(ins, nextOffset, true)
	case types.OpBEQ:
		return d.compareBranch(ins, nextOffset, backend.CmpEQ)
	case types.OpBNE:
		return d.compareBranch(ins, nextOffset, backend.CmpNE)
	case types.OpBGE:
		return d.compareBranch(ins, nextOffset, backend.CmpGE)
	case types.OpBGT:
		return d.compareBranch(ins, nextOffset, backend.CmpGT)
	case types.OpBLE:
		return d.compareBranch(ins, nextOffset, backend.CmpLE)
	case types.OpBLT:
		return d.compareBranch(ins, nextOffset, backend.CmpLT)
	case types.OpSwitch:
		return d.switchOp(ins)

	case types.OpThrow:
		return d.throw(ins, nextOffset)
	case types.OpLeave:
		return d.leave(ins, nextOffset)
	case types.OpEndFinally:
		return d.endFinallyForRegions(ins)

	default:
		return jerrors.CheckFailed(jerrors.PhaseLower, d.m.Name, ins.Offset, "unsupported opcode %d", ins.Opcode)
	}
}
