package types

// IsVisibleFrom reports whether t's declared accessibility permits access
// from code declared in "from". Assembly-level access is
// approximated here by namespace identity, since cross-assembly friend
// declarations are a loader concern out of this core's scope.
func (t *Type) IsVisibleFrom(from *Type) bool {
	switch t.Access {
	case AccessPublic:
		return true
	case AccessAssembly, AccessFamilyOrAssembly:
		if t.Namespace == from.Namespace {
			return true
		}
		if t.Access == AccessFamilyOrAssembly {
			return from.isDerivedFrom(t.DeclaringType)
		}
		return false
	case AccessFamily:
		return from.isDerivedFrom(t.DeclaringType)
	case AccessFamilyAndAssembly:
		return t.Namespace == from.Namespace && from.isDerivedFrom(t.DeclaringType)
	default: // AccessPrivate
		return t.DeclaringType == from.DeclaringType || t == from
	}
}

func (t *Type) isDerivedFrom(base *Type) bool {
	if base == nil {
		return true
	}
	for c := t; c != nil; c = c.BaseType {
		if c == base {
			return true
		}
	}
	return false
}

// FieldAccessible reports whether field f can be read/written by code
// declared in "from".
func FieldAccessible(f *Field, from *Type) bool {
	return accessible(f.Access, f.DeclaringType, from)
}

// MethodAccessible reports whether method m can be called by code declared
// in "from".
func MethodAccessible(m *Method, from *Type) bool {
	return accessible(m.Access, m.DeclaringType, from)
}

func accessible(a Access, declaring, from *Type) bool {
	switch a {
	case AccessPublic:
		return true
	case AccessAssembly:
		return declaring.Namespace == from.Namespace
	case AccessFamily:
		return from.isDerivedFrom(declaring)
	case AccessFamilyOrAssembly:
		return declaring.Namespace == from.Namespace || from.isDerivedFrom(declaring)
	case AccessFamilyAndAssembly:
		return declaring.Namespace == from.Namespace && from.isDerivedFrom(declaring)
	default: // AccessPrivate
		return declaring == from
	}
}
