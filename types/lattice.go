package types

// well-known primitive names, used by the lattice collapses below. The
// loader is expected to populate these as canonical singleton Types shared
// across an assembly; Registry caches them after first lookup via
// Bootstrap.
type Primitives struct {
	Boolean, Char                     *Type
	SByte, Byte, Int16, UInt16        *Type
	Int32, UInt32, Int64, UInt64      *Type
	IntPtr, UIntPtr                   *Type
	Single, Double                    *Type
	Object                            *Type
}

// Bootstrap records the canonical primitive Types so the lattice functions
// below can recognise them by identity rather than by name comparison.
func (r *Registry) Bootstrap(p Primitives) {
	r.prims = p
}

// UnderlyingType returns T's storage type if T is an enum, else T itself.
func (r *Registry) UnderlyingType(t *Type) *Type {
	if t != nil && t.IsEnum && t.BaseType != nil {
		return t.BaseType
	}
	return t
}

// ReducedType collapses unsigned<->signed at each integer width and
// UIntPtr<->IntPtr.
func (r *Registry) ReducedType(t *Type) *Type {
	t = r.UnderlyingType(t)
	p := &r.prims
	switch t {
	case p.Byte:
		return p.SByte
	case p.UInt16:
		return p.Int16
	case p.UInt32:
		return p.Int32
	case p.UInt64:
		return p.Int64
	case p.UIntPtr:
		return p.IntPtr
	default:
		return t
	}
}

// VerificationType additionally collapses Boolean->SByte, Char->Int16 on
// top of ReducedType, and preserves by-ref structure by recursing into the
// referent.
func (r *Registry) VerificationType(t *Type) *Type {
	if t == nil {
		return nil
	}
	if t.IsByRef {
		inner := r.VerificationType(t.ElementType)
		ref, err := r.ByRefTypeOf(inner)
		if err != nil {
			// inner is itself a by-ref only if the type graph is malformed;
			// the loader guarantees it is not, so this path is unreachable
			// in a well-formed assembly. Fall back to t itself.
			return t
		}
		return ref
	}

	p := &r.prims
	switch t {
	case p.Boolean:
		return p.SByte
	case p.Char:
		return p.Int16
	}
	return r.ReducedType(t)
}

// IntermediateType additionally widens SByte/Int16 to Int32 on top of
// VerificationType. This is the type every stack slot is
// actually tracked as.
func (r *Registry) IntermediateType(t *Type) *Type {
	v := r.VerificationType(t)
	p := &r.prims
	switch v {
	case p.SByte, p.Int16:
		return p.Int32
	}
	return v
}

// IsVerifierAssignableTo implements the assignment lattice of ECMA
// III.1.8.1: class-to-base through the transitive base
// chain; class-to-directly-implemented-interface; array covariance under
// element-compatibility; by-ref invariance up to verification-type
// equivalence; the all-zero null reference assignable to any reference
// type.
func (r *Registry) IsVerifierAssignableTo(s, t *Type) bool {
	if s == nil || t == nil {
		return false
	}
	if s == t {
		return true
	}

	sv, tv := r.VerificationType(s), r.VerificationType(t)
	if sv == tv {
		return true
	}

	// null (represented by the caller as a nil-base O-category type with no
	// identity beyond "null") is assignable to any reference type.
	if sv == nullType && (tv.StackCategory == CategoryO) {
		return true
	}

	if sv.IsByRef && tv.IsByRef {
		return r.VerificationType(sv.ElementType) == r.VerificationType(tv.ElementType)
	}
	if sv.IsByRef != tv.IsByRef {
		return false
	}

	if sv.IsArray && tv.IsArray {
		return r.IsArrayElementCompatibleWith(sv.ElementType, tv.ElementType)
	}

	// class-to-base-class through the transitive base chain
	for c := sv; c != nil; c = c.BaseType {
		if c == tv {
			return true
		}
	}

	// class-to-directly-or-transitively-implemented interface
	if tv.IsInterface {
		for c := sv; c != nil; c = c.BaseType {
			for _, impl := range c.InterfaceImpls {
				if impl.Interface == tv {
					return true
				}
			}
		}
	}

	return false
}

// IsArrayElementCompatibleWith implements array covariance: array element
// types are compatible when their reduced types are equivalent, with a widening exception for reference-type covariance (T[] is
// compatible with Base[] when T is assignable to Base).
func (r *Registry) IsArrayElementCompatibleWith(s, t *Type) bool {
	if s == t {
		return true
	}
	if r.ReducedType(s) == r.ReducedType(t) {
		return true
	}
	if s.StackCategory == CategoryO && t.StackCategory == CategoryO {
		return r.IsVerifierAssignableTo(s, t)
	}
	return false
}

// IsCompatibleWith is a looser compatibility check used where verifier
// assignability would be too strict (e.g. merge-widening candidates);
// defined as symmetric verifier-assignability.
func (r *Registry) IsCompatibleWith(s, t *Type) bool {
	return r.IsVerifierAssignableTo(s, t) || r.IsVerifierAssignableTo(t, s)
}

// nullType is a sentinel verification type representing the literal null
// reference, distinct from any declared Type. It carries CategoryO so it
// merges into any reference-typed slot.
var nullType = &Type{Name: "<null>", StackCategory: CategoryO}

// NullType exposes the null sentinel type for the stack interpreter and
// opcode lowering (ldnull pushes this).
func NullType() *Type { return nullType }
