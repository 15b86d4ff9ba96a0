package fake

import "github.com/Itay2805/tinydotnet/backend"

type builder struct {
	fn *fn
}

func (b *builder) alloc() backend.Reg {
	r := backend.Reg(b.fn.nextReg)
	b.fn.nextReg++
	return r
}

func (b *builder) NewReg() backend.Reg {
	return b.alloc()
}

func (b *builder) emit(i instr) {
	b.fn.instrs = append(b.fn.instrs, i)
}

func (b *builder) NewLabel() backend.Label {
	l := backend.Label(b.fn.nextLabel)
	b.fn.nextLabel++
	return l
}

func (b *builder) BindLabel(l backend.Label) {
	if b.fn.labels == nil {
		b.fn.labels = make(map[backend.Label]int)
	}
	b.fn.labels[l] = len(b.fn.instrs)
}

func (b *builder) labelIndex(l backend.Label) int {
	return b.fn.labels[l]
}

func (b *builder) AllocaBlock(size int) backend.Reg {
	dst := b.alloc()
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValBlock, Addr: &Address{Stack: make(map[int]Value)}})
		return -1, false, Value{}, Value{}
	})
	return dst
}

func (b *builder) Param(i int) backend.Reg {
	dst := b.alloc()
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, fr.params[i])
		return -1, false, Value{}, Value{}
	})
	return dst
}

func (b *builder) MoveImmI32(dst backend.Reg, v int32) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValI32, I: int64(v)})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) MoveImmI64(dst backend.Reg, v int64) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValI64, I: v})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) MoveImmF32(dst backend.Reg, v float32) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValF32, F: float64(v)})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) MoveImmF64(dst backend.Reg, v float64) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValF64, F: v})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) Move(dst, src backend.Reg) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, fr.get(src))
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) Ext(dst, src backend.Reg, fromBits, toBits int, signed bool) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		v := fr.get(src)
		i := v.I
		if signed {
			shift := 64 - fromBits
			i = (i << shift) >> shift
		} else {
			mask := int64(1)<<uint(fromBits) - 1
			i &= mask
		}
		kind := backend.ValI32
		if toBits > 32 {
			kind = backend.ValI64
		}
		fr.set(dst, Value{Kind: kind, I: i})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) Neg(dst, src backend.Reg, kind backend.ValueKind) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		v := fr.get(src)
		fr.set(dst, Value{Kind: kind, I: -v.I})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) Not(dst, src backend.Reg, kind backend.ValueKind) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		v := fr.get(src)
		fr.set(dst, Value{Kind: kind, I: ^v.I})
		return -1, false, Value{}, Value{}
	})
}

func truncate(kind backend.ValueKind, i int64) int64 {
	if kind == backend.ValI32 {
		return int64(int32(i))
	}
	return i
}

func (b *builder) binop(dst, a, bb backend.Reg, kind backend.ValueKind, f func(x, y int64) int64) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		x, y := fr.get(a).I, fr.get(bb).I
		fr.set(dst, Value{Kind: kind, I: truncate(kind, f(x, y))})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) Add(dst, a, bb backend.Reg, kind backend.ValueKind) {
	if kind == backend.ValF32 || kind == backend.ValF64 {
		b.emit(func(fr *frame) (int, bool, Value, Value) {
			fr.set(dst, Value{Kind: kind, F: fr.get(a).F + fr.get(bb).F})
			return -1, false, Value{}, Value{}
		})
		return
	}
	b.binop(dst, a, bb, kind, func(x, y int64) int64 { return x + y })
}

func (b *builder) Sub(dst, a, bb backend.Reg, kind backend.ValueKind) {
	if kind == backend.ValF32 || kind == backend.ValF64 {
		b.emit(func(fr *frame) (int, bool, Value, Value) {
			fr.set(dst, Value{Kind: kind, F: fr.get(a).F - fr.get(bb).F})
			return -1, false, Value{}, Value{}
		})
		return
	}
	b.binop(dst, a, bb, kind, func(x, y int64) int64 { return x - y })
}

func (b *builder) Mul(dst, a, bb backend.Reg, kind backend.ValueKind) {
	if kind == backend.ValF32 || kind == backend.ValF64 {
		b.emit(func(fr *frame) (int, bool, Value, Value) {
			fr.set(dst, Value{Kind: kind, F: fr.get(a).F * fr.get(bb).F})
			return -1, false, Value{}, Value{}
		})
		return
	}
	b.binop(dst, a, bb, kind, func(x, y int64) int64 { return x * y })
}

func (b *builder) Div(dst, a, bb backend.Reg, kind backend.ValueKind, unsigned bool) {
	if kind == backend.ValF32 || kind == backend.ValF64 {
		b.emit(func(fr *frame) (int, bool, Value, Value) {
			fr.set(dst, Value{Kind: kind, F: fr.get(a).F / fr.get(bb).F})
			return -1, false, Value{}, Value{}
		})
		return
	}
	b.binop(dst, a, bb, kind, func(x, y int64) int64 {
		if unsigned {
			return int64(uint64(x) / uint64(y))
		}
		return x / y
	})
}

func (b *builder) Mod(dst, a, bb backend.Reg, kind backend.ValueKind, unsigned bool) {
	b.binop(dst, a, bb, kind, func(x, y int64) int64 {
		if unsigned {
			return int64(uint64(x) % uint64(y))
		}
		return x % y
	})
}

func (b *builder) And(dst, a, bb backend.Reg, kind backend.ValueKind) {
	b.binop(dst, a, bb, kind, func(x, y int64) int64 { return x & y })
}

func (b *builder) Or(dst, a, bb backend.Reg, kind backend.ValueKind) {
	b.binop(dst, a, bb, kind, func(x, y int64) int64 { return x | y })
}

func (b *builder) Xor(dst, a, bb backend.Reg, kind backend.ValueKind) {
	b.binop(dst, a, bb, kind, func(x, y int64) int64 { return x ^ y })
}

func (b *builder) Shl(dst, a, bb backend.Reg, kind backend.ValueKind) {
	b.binop(dst, a, bb, kind, func(x, y int64) int64 { return x << uint64(y) })
}

func (b *builder) Shr(dst, a, bb backend.Reg, kind backend.ValueKind, unsigned bool) {
	b.binop(dst, a, bb, kind, func(x, y int64) int64 {
		if unsigned {
			return int64(uint64(x) >> uint64(y))
		}
		return x >> uint64(y)
	})
}

func (b *builder) IntToFloat(dst, src backend.Reg, double bool) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		kind := backend.ValF32
		if double {
			kind = backend.ValF64
		}
		fr.set(dst, Value{Kind: kind, F: float64(fr.get(src).I)})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) FloatToInt(dst, src backend.Reg, fromDouble bool) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValI64, I: int64(fr.get(src).F)})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) FloatConv(dst, src backend.Reg, toDouble bool) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		kind := backend.ValF32
		if toDouble {
			kind = backend.ValF64
		}
		fr.set(dst, Value{Kind: kind, F: fr.get(src).F})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) FloatNeg(dst, src backend.Reg, double bool) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		kind := backend.ValF32
		if double {
			kind = backend.ValF64
		}
		fr.set(dst, Value{Kind: kind, F: -fr.get(src).F})
		return -1, false, Value{}, Value{}
	})
}

// resolveSlots returns the slot map and key mem addresses into, given the
// base register's value (an Object, an Address, or a stack block from
// AllocaBlock).
func resolveSlots(fr *frame, mem backend.MemOperand) (map[int]Value, int, bool) {
	base := fr.get(mem.Base)
	key := mem.Displacement
	if mem.HasIndex {
		key += int(fr.get(mem.Index).I) * mem.Scale
	}
	switch {
	case base.Obj != nil:
		return base.Obj.Slots, key, true
	case base.Addr != nil:
		a := base.Addr
		if a.Obj != nil {
			return a.Obj.Slots, a.Offset + key, true
		}
		return a.Stack, a.Offset + key, true
	default:
		return nil, 0, false
	}
}

func (b *builder) Load(dst backend.Reg, mem backend.MemOperand, kind backend.ValueKind) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		slots, key, ok := resolveSlots(fr, mem)
		if !ok {
			return -1, true, nullRefException(), Value{}
		}
		fr.set(dst, slots[key])
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) Store(mem backend.MemOperand, src backend.Reg, kind backend.ValueKind) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		slots, key, ok := resolveSlots(fr, mem)
		if !ok {
			return -1, true, nullRefException(), Value{}
		}
		slots[key] = fr.get(src)
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) LoadAddr(dst backend.Reg, mem backend.MemOperand) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		base := fr.get(mem.Base)
		key := mem.Displacement
		if mem.HasIndex {
			key += int(fr.get(mem.Index).I) * mem.Scale
		}
		var a *Address
		switch {
		case base.Obj != nil:
			a = &Address{Obj: base.Obj, Offset: key}
		case base.Addr != nil:
			if base.Addr.Obj != nil {
				a = &Address{Obj: base.Addr.Obj, Offset: base.Addr.Offset + key}
			} else {
				a = &Address{Stack: base.Addr.Stack, Offset: base.Addr.Offset + key}
			}
		default:
			return -1, true, nullRefException(), Value{}
		}
		fr.set(dst, Value{Kind: backend.ValPtr, Addr: a})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) LoadSymbolAddr(dst backend.Reg, addr backend.Address) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValPtr, Addr: addr.(*Address)})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) LoadObjectRef(dst backend.Reg, obj backend.Object) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValPtr, Obj: obj.(*Object)})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) LoadFunctionAddr(dst backend.Reg, target backend.Function) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		fr.set(dst, Value{Kind: backend.ValPtr, Fn: target.(*fn)})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) Br(target backend.Label) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		return b.labelIndex(target), false, Value{}, Value{}
	})
}

func (b *builder) BrIf(cond backend.Reg, target backend.Label, zero bool) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		v := fr.get(cond)
		isZero := v.I == 0 && v.Obj == nil && v.Addr == nil
		if isZero == zero {
			return b.labelIndex(target), false, Value{}, Value{}
		}
		return -1, false, Value{}, Value{}
	})
}

func compareInts(op backend.CompareOp, x, y int64, unsigned bool) bool {
	if unsigned {
		ux, uy := uint64(x), uint64(y)
		switch op {
		case backend.CmpEQ:
			return ux == uy
		case backend.CmpNE:
			return ux != uy
		case backend.CmpGE:
			return ux >= uy
		case backend.CmpGT:
			return ux > uy
		case backend.CmpLE:
			return ux <= uy
		case backend.CmpLT:
			return ux < uy
		}
	}
	switch op {
	case backend.CmpEQ:
		return x == y
	case backend.CmpNE:
		return x != y
	case backend.CmpGE:
		return x >= y
	case backend.CmpGT:
		return x > y
	case backend.CmpLE:
		return x <= y
	case backend.CmpLT:
		return x < y
	}
	return false
}

func (b *builder) Compare(dst backend.Reg, a, bb backend.Reg, kind backend.ValueKind, op backend.CompareOp, unsigned bool) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		va, vb := fr.get(a), fr.get(bb)
		var result bool
		if kind == backend.ValF32 || kind == backend.ValF64 {
			switch op {
			case backend.CmpEQ:
				result = va.F == vb.F
			case backend.CmpNE:
				result = va.F != vb.F
			case backend.CmpGE:
				result = va.F >= vb.F
			case backend.CmpGT:
				result = va.F > vb.F
			case backend.CmpLE:
				result = va.F <= vb.F
			case backend.CmpLT:
				result = va.F < vb.F
			}
		} else if kind == backend.ValPtr {
			switch op {
			case backend.CmpEQ:
				result = va.Obj == vb.Obj && va.Addr == vb.Addr
			case backend.CmpNE:
				result = !(va.Obj == vb.Obj && va.Addr == vb.Addr)
			}
		} else {
			result = compareInts(op, va.I, vb.I, unsigned)
		}
		i := int64(0)
		if result {
			i = 1
		}
		fr.set(dst, Value{Kind: backend.ValI32, I: i})
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) CompareBranch(a, bb backend.Reg, kind backend.ValueKind, op backend.CompareOp, unsigned bool, target backend.Label) {
	tmp := b.alloc()
	b.Compare(tmp, a, bb, kind, op, unsigned)
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		if fr.get(tmp).I != 0 {
			return b.labelIndex(target), false, Value{}, Value{}
		}
		return -1, false, Value{}, Value{}
	})
}

func (b *builder) Switch(selector backend.Reg, targets []backend.Label, fallthrough_ backend.Label) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		idx := fr.get(selector).I
		if idx < 0 || idx >= int64(len(targets)) {
			return b.labelIndex(fallthrough_), false, Value{}, Value{}
		}
		return b.labelIndex(targets[idx]), false, Value{}, Value{}
	})
}

func (b *builder) Call(target backend.Function, args []backend.Reg) (backend.Reg, backend.Reg) {
	excReg, valReg := b.alloc(), b.alloc()
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		callArgs := make([]Value, len(args))
		for i, r := range args {
			callArgs[i] = fr.get(r)
		}
		exc, val, err := target.(*fn).run(callArgs, fr.mod)
		if err != nil {
			return -1, true, goErrException(err), Value{}
		}
		fr.set(excReg, exc)
		fr.set(valReg, val)
		return -1, false, Value{}, Value{}
	})
	return excReg, valReg
}

func (b *builder) CallIndirect(addr backend.Reg, params, results []backend.ValueKind, args []backend.Reg) (backend.Reg, backend.Reg) {
	excReg, valReg := b.alloc(), b.alloc()
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		target := fr.get(addr)
		if target.Fn == nil {
			return -1, true, nullRefException(), Value{}
		}
		callArgs := make([]Value, len(args))
		for i, r := range args {
			callArgs[i] = fr.get(r)
		}
		exc, val, err := target.Fn.run(callArgs, fr.mod)
		if err != nil {
			return -1, true, goErrException(err), Value{}
		}
		fr.set(excReg, exc)
		fr.set(valReg, val)
		return -1, false, Value{}, Value{}
	})
	return excReg, valReg
}

func (b *builder) InlineCall(target backend.Function, args []backend.Reg) (backend.Reg, backend.Reg) {
	return b.Call(target, args)
}

func (b *builder) Return(vals []backend.Reg) {
	b.emit(func(fr *frame) (int, bool, Value, Value) {
		switch len(vals) {
		case 0:
			return -1, true, Value{}, Value{}
		case 1:
			return -1, true, fr.get(vals[0]), Value{}
		default:
			return -1, true, fr.get(vals[0]), fr.get(vals[1])
		}
	})
}

func nullRefException() Value {
	return Value{Kind: backend.ValPtr, Obj: &Object{Slots: map[int]Value{exceptionKindSlot: {I: int64(ExcNullReference)}}}}
}

func goErrException(err error) Value {
	return Value{Kind: backend.ValPtr, Obj: &Object{Slots: map[int]Value{exceptionKindSlot: {I: int64(ExcBackend)}}}}
}

// exceptionKindSlot and ExcKind let fake exception objects carry just
// enough information for tests to assert which well-known runtime
// exception was thrown, without modelling a real exception type hierarchy.
const exceptionKindSlot = -3000

type ExcKind int64

const (
	ExcNone ExcKind = iota
	ExcNullReference
	ExcIndexOutOfRange
	ExcDivideByZero
	ExcInvalidCast
	ExcOutOfMemory
	ExcBackend
	ExcUser
)

// ExceptionKind recovers the well-known kind of an exception Object, or
// ExcUser if it was thrown via throw_new with a user type.
func ExceptionKind(v Value) ExcKind {
	if v.Obj == nil {
		return ExcNone
	}
	if s, ok := v.Obj.Slots[exceptionKindSlot]; ok {
		return ExcKind(s.I)
	}
	return ExcUser
}
