package lower

import (
	"testing"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/types"
)

func TestArithAddInt32(t *testing.T) {
	reg, p := testPrimitives(t)
	m := &types.Method{Name: "Add", IsStatic: true, ReturnType: p.Int32}
	c, mod, _, _ := newTestContext(t, reg, m, 8)

	lhs, err := c.Stack.Push(p.Int32)
	if err != nil {
		t.Fatalf("push lhs: %v", err)
	}
	c.B.MoveImmI32(lhs.Reg, 2)
	rhs, err := c.Stack.Push(p.Int32)
	if err != nil {
		t.Fatalf("push rhs: %v", err)
	}
	c.B.MoveImmI32(rhs.Reg, 40)

	if err := c.Arith(OpAdd, false); err != nil {
		t.Fatalf("Arith: %v", err)
	}
	result, err := c.Stack.Pop()
	if err != nil {
		t.Fatalf("pop result: %v", err)
	}
	c.B.Return([]backend.Reg{result.Reg})

	_, val, err := mod.Invoke(m.Name, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if val.I != 42 {
		t.Fatalf("expected 42, got %d", val.I)
	}
}

func TestArithIntPtrWidening(t *testing.T) {
	reg, p := testPrimitives(t)
	m := &types.Method{Name: "AddWiden", IsStatic: true, ReturnType: p.IntPtr}
	c, mod, _, _ := newTestContext(t, reg, m, 8)

	lhs, err := c.Stack.Push(p.IntPtr)
	if err != nil {
		t.Fatalf("push lhs: %v", err)
	}
	c.B.MoveImmI64(lhs.Reg, 100)
	rhs, err := c.Stack.Push(p.Int32)
	if err != nil {
		t.Fatalf("push rhs: %v", err)
	}
	c.B.MoveImmI32(rhs.Reg, 5)

	if err := c.Arith(OpAdd, false); err != nil {
		t.Fatalf("Arith: %v", err)
	}
	result, err := c.Stack.Pop()
	if err != nil {
		t.Fatalf("pop result: %v", err)
	}
	if result.Type != p.IntPtr {
		t.Fatalf("expected widened result type IntPtr, got %s", result.Type.Name)
	}
	c.B.Return([]backend.Reg{result.Reg})

	_, val, err := mod.Invoke(m.Name, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if val.I != 105 {
		t.Fatalf("expected 105, got %d", val.I)
	}
}

func TestArithDivideByZeroGuardThrows(t *testing.T) {
	reg, p := testPrimitives(t)
	m := &types.Method{Name: "DivZero", IsStatic: true, ReturnType: p.Int32}
	c, mod, _, th := newTestContext(t, reg, m, 8)

	lhs, err := c.Stack.Push(p.Int32)
	if err != nil {
		t.Fatalf("push lhs: %v", err)
	}
	c.B.MoveImmI32(lhs.Reg, 10)
	rhs, err := c.Stack.Push(p.Int32)
	if err != nil {
		t.Fatalf("push rhs: %v", err)
	}
	c.B.MoveImmI32(rhs.Reg, 0)

	if err := c.Arith(OpDiv, false); err != nil {
		t.Fatalf("Arith: %v", err)
	}
	result, err := c.Stack.Pop()
	if err != nil {
		t.Fatalf("pop result: %v", err)
	}
	c.B.Return([]backend.Reg{result.Reg})

	if _, _, err := mod.Invoke(m.Name, nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(th.thrown) != 1 || th.thrown[0] != "System.DivideByZeroException" {
		t.Fatalf("expected a single DivideByZeroException throw, got %v", th.thrown)
	}
}

func TestArithBitwiseOnFloatRejected(t *testing.T) {
	reg, p := testPrimitives(t)
	m := &types.Method{Name: "BadXor", IsStatic: true, ReturnType: p.Single}
	c, _, _, _ := newTestContext(t, reg, m, 8)

	lhs, err := c.Stack.Push(p.Single)
	if err != nil {
		t.Fatalf("push lhs: %v", err)
	}
	c.B.MoveImmF32(lhs.Reg, 1)
	rhs, err := c.Stack.Push(p.Single)
	if err != nil {
		t.Fatalf("push rhs: %v", err)
	}
	c.B.MoveImmF32(rhs.Reg, 2)

	if err := c.Arith(OpXor, false); err == nil {
		t.Fatal("expected rejection of bitwise op on FLOAT operands")
	}
}
