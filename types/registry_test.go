package types

import "testing"

func newTestRegistry() (*Registry, Primitives) {
	r := NewRegistry()
	object := &Type{Name: "Object", Namespace: "System", StackCategory: CategoryO, StackSize: 8}
	array := &Type{Name: "Array", Namespace: "System", StackCategory: CategoryO, StackSize: 8, BaseType: object}
	r.ObjectType = object
	r.ArrayBase = array

	p := Primitives{
		Boolean: &Type{Name: "Boolean", StackCategory: CategoryInt32, StackSize: 4},
		Char:    &Type{Name: "Char", StackCategory: CategoryInt32, StackSize: 4},
		SByte:   &Type{Name: "SByte", StackCategory: CategoryInt32, StackSize: 4},
		Byte:    &Type{Name: "Byte", StackCategory: CategoryInt32, StackSize: 4},
		Int16:   &Type{Name: "Int16", StackCategory: CategoryInt32, StackSize: 4},
		UInt16:  &Type{Name: "UInt16", StackCategory: CategoryInt32, StackSize: 4},
		Int32:   &Type{Name: "Int32", StackCategory: CategoryInt32, StackSize: 4},
		UInt32:  &Type{Name: "UInt32", StackCategory: CategoryInt32, StackSize: 4},
		Int64:   &Type{Name: "Int64", StackCategory: CategoryInt64, StackSize: 8},
		UInt64:  &Type{Name: "UInt64", StackCategory: CategoryInt64, StackSize: 8},
		IntPtr:  &Type{Name: "IntPtr", StackCategory: CategoryIntPtr, StackSize: 8},
		UIntPtr: &Type{Name: "UIntPtr", StackCategory: CategoryIntPtr, StackSize: 8},
		Single:  &Type{Name: "Single", StackCategory: CategoryFloat, StackSize: 4},
		Double:  &Type{Name: "Double", StackCategory: CategoryFloat, StackSize: 8},
		Object:  object,
	}
	r.Bootstrap(p)
	return r, p
}

func TestArrayTypeOfIsUnique(t *testing.T) {
	r, p := newTestRegistry()

	a1, err := r.ArrayTypeOf(p.Int32)
	if err != nil {
		t.Fatalf("ArrayTypeOf: %v", err)
	}
	a2, err := r.ArrayTypeOf(p.Int32)
	if err != nil {
		t.Fatalf("ArrayTypeOf: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("ArrayTypeOf(T) not stable across calls: %p != %p", a1, a2)
	}
	if a1.ElementType != p.Int32 {
		t.Fatalf("array_type(T).element_type != T")
	}
	if a1.StackCategory != CategoryO {
		t.Fatalf("array stack category = %v, want O", a1.StackCategory)
	}
}

func TestByRefTypeOfIsUnique(t *testing.T) {
	r, p := newTestRegistry()

	b1, err := r.ByRefTypeOf(p.Int32)
	if err != nil {
		t.Fatalf("ByRefTypeOf: %v", err)
	}
	b2, _ := r.ByRefTypeOf(p.Int32)
	if b1 != b2 {
		t.Fatalf("ByRefTypeOf(T) not stable across calls")
	}
	if b1.BaseType != p.Int32 {
		t.Fatalf("by_ref_type(T).base_type != T")
	}
	if b1.StackCategory != CategoryRef {
		t.Fatalf("by-ref stack category = %v, want REF", b1.StackCategory)
	}

	if _, err := r.ByRefTypeOf(b1); err == nil {
		t.Fatalf("expected error taking by-ref of a by-ref type")
	}
}

func TestReducedTypeCollapsesSignedness(t *testing.T) {
	r, p := newTestRegistry()

	cases := []struct{ in, want *Type }{
		{p.Byte, p.SByte},
		{p.UInt16, p.Int16},
		{p.UInt32, p.Int32},
		{p.UInt64, p.Int64},
		{p.UIntPtr, p.IntPtr},
		{p.Int32, p.Int32},
	}
	for _, c := range cases {
		if got := r.ReducedType(c.in); got != c.want {
			t.Errorf("ReducedType(%s) = %s, want %s", c.in.Name, got.Name, c.want.Name)
		}
	}
}

func TestVerificationTypeCollapsesBooleanAndChar(t *testing.T) {
	r, p := newTestRegistry()

	if got := r.VerificationType(p.Boolean); got != p.SByte {
		t.Errorf("VerificationType(Boolean) = %s, want SByte", got.Name)
	}
	if got := r.VerificationType(p.Char); got != p.Int16 {
		t.Errorf("VerificationType(Char) = %s, want Int16", got.Name)
	}
}

func TestIntermediateTypeWidensSmallInts(t *testing.T) {
	r, p := newTestRegistry()

	if got := r.IntermediateType(p.SByte); got != p.Int32 {
		t.Errorf("IntermediateType(SByte) = %s, want Int32", got.Name)
	}
	if got := r.IntermediateType(p.Int16); got != p.Int32 {
		t.Errorf("IntermediateType(Int16) = %s, want Int32", got.Name)
	}
	if got := r.IntermediateType(p.Boolean); got != p.Int32 {
		t.Errorf("IntermediateType(Boolean) = %s, want Int32 (via SByte)", got.Name)
	}
}

func TestLatticeIdempotence(t *testing.T) {
	r, p := newTestRegistry()

	for _, ty := range []*Type{p.Boolean, p.Byte, p.Int32, p.IntPtr, p.Double, p.Object} {
		v1 := r.VerificationType(ty)
		if v2 := r.VerificationType(v1); v2 != v1 {
			t.Errorf("VerificationType not idempotent for %s", ty.Name)
		}
		i1 := r.IntermediateType(ty)
		if i2 := r.IntermediateType(i1); i2 != i1 {
			t.Errorf("IntermediateType not idempotent for %s", ty.Name)
		}
		red1 := r.ReducedType(ty)
		if red2 := r.ReducedType(red1); red2 != red1 {
			t.Errorf("ReducedType not idempotent for %s", ty.Name)
		}
	}
}

func TestIsVerifierAssignableToBaseChain(t *testing.T) {
	r, p := newTestRegistry()
	base := &Type{Name: "B", StackCategory: CategoryO, BaseType: p.Object}
	derived := &Type{Name: "D", StackCategory: CategoryO, BaseType: base}

	if !r.IsVerifierAssignableTo(derived, base) {
		t.Errorf("D should be assignable to its base B")
	}
	if !r.IsVerifierAssignableTo(derived, p.Object) {
		t.Errorf("D should be assignable to Object through the transitive base chain")
	}
	if r.IsVerifierAssignableTo(base, derived) {
		t.Errorf("B should not be assignable to its more-derived type D")
	}
}

func TestIsVerifierAssignableToInterface(t *testing.T) {
	r, p := newTestRegistry()
	iface := &Type{Name: "I", IsInterface: true, StackCategory: CategoryO}
	impl := &Type{Name: "C", StackCategory: CategoryO, BaseType: p.Object,
		InterfaceImpls: []*InterfaceImpl{{Interface: iface}}}

	if !r.IsVerifierAssignableTo(impl, iface) {
		t.Errorf("C should be assignable to I, which it directly implements")
	}
}

func TestArrayCovariance(t *testing.T) {
	r, p := newTestRegistry()
	base := &Type{Name: "B", StackCategory: CategoryO, BaseType: p.Object}
	derived := &Type{Name: "D", StackCategory: CategoryO, BaseType: base}

	derivedArr, _ := r.ArrayTypeOf(derived)
	baseArr, _ := r.ArrayTypeOf(base)

	if !r.IsVerifierAssignableTo(derivedArr, baseArr) {
		t.Errorf("D[] should be assignable to B[] (array covariance)")
	}
}

func TestNullAssignableToAnyReference(t *testing.T) {
	r, p := newTestRegistry()
	if !r.IsVerifierAssignableTo(NullType(), p.Object) {
		t.Errorf("null should be assignable to any reference type")
	}
}
