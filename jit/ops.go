package jit

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/lower"
	"github.com/Itay2805/tinydotnet/sig"
	"github.com/Itay2805/tinydotnet/types"
)

func (d *dispatcher) zero() backend.Reg {
	if !d.zeroSet {
		d.zeroExc = d.c.Stack.AllocPublic()
		d.c.B.MoveImmI64(d.zeroExc, 0)
		d.zeroSet = true
	}
	return d.zeroExc
}

// isBackward reports whether toOffset is a backward (already-lowered)
// branch target relative to fromOffset.
func isBackward(fromOffset, toOffset int) bool { return toOffset <= fromOffset }

// recordTarget records (or merges into) the stack snapshot at a branch
// target, the bookkeeping every branch opcode needs around its lower.*
// call so a later EnterFromSnapshot at that offset sees the right typed
// stack.
func (d *dispatcher) recordTarget(fromOffset, toOffset int) error {
	return d.in.RecordBranchTarget(toOffset, d.labelFor(toOffset), isBackward(fromOffset, toOffset))
}

// afterTerminator resets the interpreter to the dead-code default (empty
// stack) when the instruction following a terminator (br, throw, leave,
// ret, switch) has no recorded snapshot of its own.
func (d *dispatcher) afterTerminator(nextOffset int) error {
	if nextOffset < 0 {
		return nil
	}
	return d.in.RequireEmptyOrSnapshot(nextOffset)
}

func (d *dispatcher) loadArg(index int, p types.Primitives) error {
	if !d.m.IsStatic && index == 0 {
		slot, err := d.c.Stack.Push(d.thisType())
		if err != nil {
			return err
		}
		d.c.B.Move(slot.Reg, d.c.ThisReg)
		return nil
	}
	return d.c.LoadArg(d.ordinaryArgIndex(index), p.Int32)
}

func (d *dispatcher) storeArg(index int) error {
	if !d.m.IsStatic && index == 0 {
		return jerrors.CheckFailed(jerrors.PhaseLower, d.m.Name, d.c.Offset, "starg 0 on this is not permitted")
	}
	return d.c.StoreArg(d.ordinaryArgIndex(index))
}

func (d *dispatcher) loadArgAddr(index int) error {
	if !d.m.IsStatic && index == 0 {
		byRefType, err := d.reg.ByRefTypeOf(d.thisType())
		if err != nil {
			return jerrors.Wrap(jerrors.PhaseLower, jerrors.KindBadFormat, err, "ldarga 0")
		}
		slot, err := d.c.Stack.Push(byRefType)
		if err != nil {
			return err
		}
		d.c.B.Move(slot.Reg, d.c.ThisReg)
		return nil
	}
	byRefType, err := d.reg.ByRefTypeOf(d.m.Parameters[d.ordinaryArgIndex(index)].Type)
	if err != nil {
		return jerrors.Wrap(jerrors.PhaseLower, jerrors.KindBadFormat, err, "ldarga")
	}
	return d.c.LoadArgAddr(d.ordinaryArgIndex(index), byRefType)
}

// ordinaryArgIndex translates a CIL argument index (which counts this as
// slot 0 on an instance method) to the ParamRegs/Method.Parameters index
// LoadArg/StoreArg/LoadArgAddr expect (which excludes this entirely).
func (d *dispatcher) ordinaryArgIndex(cilIndex int) int {
	if d.m.IsStatic {
		return cilIndex
	}
	return cilIndex - 1
}

func (d *dispatcher) thisType() *types.Type {
	return d.m.DeclaringType
}

func (d *dispatcher) loadString(value string, p types.Primitives) error {
	obj, err := d.e.DeclareStringLiteral(value)
	if err != nil {
		return err
	}
	slot, err := d.c.Stack.Push(p.Object)
	if err != nil {
		return err
	}
	d.c.B.LoadObjectRef(slot.Reg, obj)
	return nil
}

func (d *dispatcher) dup() error {
	v, err := d.c.Stack.Peek()
	if err != nil {
		return err
	}
	slot, err := d.c.Stack.Push(v.Type)
	if err != nil {
		return err
	}
	d.c.B.Move(slot.Reg, v.Reg)
	return nil
}

func (d *dispatcher) loadField(ins types.Instruction) error {
	obj, err := d.c.Stack.Pop()
	if err != nil {
		return err
	}
	return d.c.LoadField(obj.Reg, ins.Field, d.reg.Primitives().Int32)
}

func (d *dispatcher) storeField(ins types.Instruction) error {
	value, err := d.c.Stack.Pop()
	if err != nil {
		return err
	}
	obj, err := d.c.Stack.Pop()
	if err != nil {
		return err
	}
	return d.c.StoreField(obj.Reg, value.Reg, ins.Field.DeclaringType, ins.Field, value.Type)
}

func (d *dispatcher) loadFieldAddr(ins types.Instruction) error {
	obj, err := d.c.Stack.Pop()
	if err != nil {
		return err
	}
	byRefType, err := d.reg.ByRefTypeOf(ins.Field.FieldType)
	if err != nil {
		return jerrors.Wrap(jerrors.PhaseLower, jerrors.KindBadFormat, err, "ldflda")
	}
	return d.c.LoadFieldAddr(obj.Reg, ins.Field, byRefType)
}

func (d *dispatcher) staticAddrReg(f *types.Field) (backend.Reg, error) {
	addr, err := d.e.DeclareStaticField(f)
	if err != nil {
		return 0, err
	}
	reg := d.c.Stack.AllocPublic()
	d.c.B.LoadSymbolAddr(reg, addr)
	return reg, nil
}

func (d *dispatcher) loadStatic(ins types.Instruction, p types.Primitives) error {
	addr, err := d.staticAddrReg(ins.Field)
	if err != nil {
		return err
	}
	return d.c.LoadStatic(addr, ins.Field, p.Int32)
}

func (d *dispatcher) storeStatic(ins types.Instruction) error {
	value, err := d.c.Stack.Pop()
	if err != nil {
		return err
	}
	addr, err := d.staticAddrReg(ins.Field)
	if err != nil {
		return err
	}
	isCctor := d.m.IsRTSpecialName && d.m.Name == ".cctor" && d.m.DeclaringType == ins.Field.DeclaringType
	return d.c.StoreStatic(addr, value.Reg, ins.Field, isCctor)
}

func (d *dispatcher) loadStaticAddr(ins types.Instruction) error {
	addr, err := d.staticAddrReg(ins.Field)
	if err != nil {
		return err
	}
	byRefType, err := d.reg.ByRefTypeOf(ins.Field.FieldType)
	if err != nil {
		return jerrors.Wrap(jerrors.PhaseLower, jerrors.KindBadFormat, err, "ldsflda")
	}
	slot, err := d.c.Stack.Push(byRefType)
	if err != nil {
		return err
	}
	d.c.B.Move(slot.Reg, addr)
	return nil
}

func (d *dispatcher) typeHandleReg(t *types.Type) (backend.Reg, error) {
	obj, err := d.e.TypeHandle(t)
	if err != nil {
		return 0, err
	}
	reg := d.c.Stack.AllocPublic()
	d.c.B.LoadObjectRef(reg, obj)
	return reg, nil
}

func (d *dispatcher) newArr(ins types.Instruction) error {
	arrayType, err := d.reg.ArrayTypeOf(ins.Type)
	if err != nil {
		return jerrors.Wrap(jerrors.PhaseLower, jerrors.KindBadFormat, err, "newarr")
	}
	handle, err := d.typeHandleReg(arrayType)
	if err != nil {
		return err
	}
	return d.c.NewArr(ins.Type, arrayType, handle, d.reg.Primitives().Int32)
}

func (d *dispatcher) isInstOrCastClass(ins types.Instruction, cast bool) error {
	handle, err := d.typeHandleReg(ins.Type)
	if err != nil {
		return err
	}
	if cast {
		return d.c.CastClass(ins.Type, handle, ins.ToInterface)
	}
	return d.c.IsInst(ins.Type, handle, ins.ToInterface)
}

func (d *dispatcher) box(ins types.Instruction, p types.Primitives) error {
	handle, err := d.typeHandleReg(ins.Type)
	if err != nil {
		return err
	}
	return d.c.Box(ins.Type, ins.Type, handle)
}

func (d *dispatcher) call(ins types.Instruction) error {
	target, ok := d.e.Function(ins.Method)
	if !ok {
		return jerrors.NotFound(jerrors.PhaseEmit, "declared function", ins.Method.Name)
	}
	proto, ok := d.e.Proto(ins.Method)
	if !ok {
		return jerrors.NotFound(jerrors.PhaseEmit, "declared prototype", ins.Method.Name)
	}
	return d.c.Call(target, proto)
}

// vtableSlot picks m's slot within its declaring type's vtable region: an
// ordinary virtual method's fixed class-level index, or (when m is
// declared directly on an interface) its index within that interface's own
// virtual-method list. The latter relies on the interface value already
// carrying its own interface-local vtable-region pointer by the time it
// reaches a callvirt site, the same way an isinst/castclass narrowing
// through dynamic_cast_obj_to_interface produces one; see DESIGN.md for the
// deferred two-word interface receiver simplification this implies.
func vtableSlot(m *types.Method) int {
	if m.VTableIndex >= 0 {
		return m.VTableIndex
	}
	for i, im := range m.DeclaringType.VirtualMethods {
		if im == m {
			return i
		}
	}
	return 0
}

func (d *dispatcher) callVirt(ins types.Instruction) error {
	proto, ok := d.e.Proto(ins.Method)
	if !ok {
		return jerrors.NotFound(jerrors.PhaseEmit, "declared prototype", ins.Method.Name)
	}
	params, results := callIndirectShape(proto)
	return d.c.CallVirt(vtableSlot(ins.Method), proto, params, results)
}

// callIndirectShape mirrors emit.signatureKinds for a CallIndirect site,
// which needs the same flattened parameter/result kind lists a
// DeclareFunction call built at declaration time.
func callIndirectShape(p *sig.Prototype) (params, results []backend.ValueKind) {
	for _, pp := range p.PreparedParams {
		if pp.Kind == sig.ParamBlock {
			params = append(params, backend.ValBlock)
			continue
		}
		params = append(params, lower.ValueKindOf(pp.Type))
	}
	switch p.ResultShape {
	case sig.ResultValue:
		results = []backend.ValueKind{backend.ValPtr, lower.ValueKindOf(p.Method.ReturnType)}
	default:
		results = []backend.ValueKind{backend.ValPtr}
	}
	return params, results
}

func (d *dispatcher) newObj(ins types.Instruction) error {
	ctor, ok := d.e.Function(ins.Method)
	if !ok {
		return jerrors.NotFound(jerrors.PhaseEmit, "declared constructor", ins.Method.Name)
	}
	proto, ok := d.e.Proto(ins.Method)
	if !ok {
		return jerrors.NotFound(jerrors.PhaseEmit, "declared prototype", ins.Method.Name)
	}
	t := ins.Method.DeclaringType
	var handle backend.Reg
	if !(t.IsValueType && !t.IsEnum) {
		h, err := d.typeHandleReg(t)
		if err != nil {
			return err
		}
		handle = h
	}
	return d.c.NewObj(t, handle, ctor, proto)
}

func (d *dispatcher) ret() error {
	proto := d.c.Proto
	switch proto.ResultShape {
	case sig.ResultNone:
		d.c.B.Return([]backend.Reg{d.zero()})
		return nil
	case sig.ResultValue:
		v, err := d.c.Stack.Pop()
		if err != nil {
			return err
		}
		d.c.B.Return([]backend.Reg{d.zero(), v.Reg})
		return nil
	default: // ResultBlock
		v, err := d.c.Stack.Pop()
		if err != nil {
			return err
		}
		returnBlock := d.c.B.Param(0)
		t := proto.Method.ReturnType
		if len(t.ManagedPointerOffsets) > 0 {
			d.c.B.Call(d.c.Shim.ManagedMemcpy, []backend.Reg{returnBlock, v.Reg})
		} else {
			size := d.c.Stack.AllocPublic()
			d.c.B.MoveImmI64(size, int64(t.ManagedSize))
			d.c.B.Call(d.c.Shim.Memcpy, []backend.Reg{returnBlock, v.Reg, size})
		}
		d.c.B.Return([]backend.Reg{d.zero()})
		return nil
	}
}

func (d *dispatcher) branch(ins types.Instruction, nextOffset int) error {
	target := d.labelFor(ins.BranchTarget)
	if err := d.recordTarget(ins.Offset, ins.BranchTarget); err != nil {
		return err
	}
	if err := d.c.Br(ins.Offset, ins.BranchTarget, target); err != nil {
		return err
	}
	return d.afterTerminator(nextOffset)
}

func (d *dispatcher) condBranch(ins types.Instruction, nextOffset int, whenFalse bool) error {
	target := d.labelFor(ins.BranchTarget)
	var err error
	if whenFalse {
		err = d.c.BrFalse(ins.Offset, ins.BranchTarget, target)
	} else {
		err = d.c.BrTrue(ins.Offset, ins.BranchTarget, target)
	}
	if err != nil {
		return err
	}
	return d.recordTarget(ins.Offset, ins.BranchTarget)
}

func (d *dispatcher) compareBranch(ins types.Instruction, nextOffset int, op backend.CompareOp) error {
	target := d.labelFor(ins.BranchTarget)
	if err := d.lowerer.ValidateBranch(d.m, ins.Offset, ins.BranchTarget); err != nil {
		return err
	}
	if err := d.c.CompareBranch(op, ins.Unsigned, target); err != nil {
		return err
	}
	return d.recordTarget(ins.Offset, ins.BranchTarget)
}

func (d *dispatcher) switchOp(ins types.Instruction) error {
	targets := make([]backend.Label, len(ins.SwitchTargets))
	for i, to := range ins.SwitchTargets {
		targets[i] = d.labelFor(to)
	}
	fallthroughOffset := ins.Offset + ins.Length
	fallthroughLabel := d.labelFor(fallthroughOffset)

	if err := d.c.Switch(ins.Offset, ins.SwitchTargets, targets, fallthroughLabel); err != nil {
		return err
	}
	for _, to := range ins.SwitchTargets {
		if err := d.recordTarget(ins.Offset, to); err != nil {
			return err
		}
	}
	return d.in.MergeAtOffset(fallthroughOffset, fallthroughLabel, isBackward(ins.Offset, fallthroughOffset))
}

func (d *dispatcher) throw(ins types.Instruction, nextOffset int) error {
	v, err := d.c.Stack.Pop()
	if err != nil {
		return err
	}
	if err := d.lowerer.Throw(d.c, ins.Offset, v.Reg, v.Type); err != nil {
		return err
	}
	return d.afterTerminator(nextOffset)
}

func (d *dispatcher) leave(ins types.Instruction, nextOffset int) error {
	d.in.Reset()
	target := d.labelFor(ins.BranchTarget)
	if err := d.lowerer.Leave(d.c, ins.Offset, ins.BranchTarget, target); err != nil {
		return err
	}
	if err := d.in.RecordBranchTarget(ins.BranchTarget, target, isBackward(ins.Offset, ins.BranchTarget)); err != nil {
		return err
	}
	return d.afterTerminator(nextOffset)
}

func (d *dispatcher) endFinallyForRegions(ins types.Instruction) error {
	return d.lowerer.EndFinally(d.c, ins.Offset)
}
