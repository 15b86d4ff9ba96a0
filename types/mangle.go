package types

import "strings"

// MangledName builds a canonical assembly-qualified symbol name for t,
// following the loader's namespace/name/generic-argument convention: a
// structured identifier is translated into a single linker-safe symbol by
// walking the string once and substituting separators.
func (t *Type) MangledName() string {
	var b strings.Builder
	writeTypeName(&b, t)
	return b.String()
}

func writeTypeName(b *strings.Builder, t *Type) {
	if t.IsArray {
		writeTypeName(b, t.ElementType)
		b.WriteString("[]")
		return
	}
	if t.IsByRef {
		writeTypeName(b, t.ElementType)
		b.WriteByte('&')
		return
	}
	if t.DeclaringType != nil {
		writeTypeName(b, t.DeclaringType)
		b.WriteByte('+')
		b.WriteString(t.Name)
	} else {
		if t.Namespace != "" {
			b.WriteString(t.Namespace)
			b.WriteByte('.')
		}
		b.WriteString(t.Name)
	}
	if len(t.GenericArgs) > 0 {
		b.WriteByte('<')
		for i, a := range t.GenericArgs {
			if i > 0 {
				b.WriteByte(',')
			}
			writeTypeName(b, a)
		}
		b.WriteByte('>')
	}
}

// MangledMethodName builds the linker symbol for method m, qualified by its
// declaring type's mangled name.
func (m *Method) MangledMethodName() string {
	var b strings.Builder
	writeTypeName(&b, m.DeclaringType)
	b.WriteString("::")
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Parameters {
		if i > 0 {
			b.WriteByte(',')
		}
		writeTypeName(&b, p.Type)
	}
	b.WriteByte(')')
	return b.String()
}

// MangledFieldName builds the linker symbol for a static field.
func (f *Field) MangledFieldName() string {
	var b strings.Builder
	writeTypeName(&b, f.DeclaringType)
	b.WriteString("::")
	b.WriteString(f.Name)
	return b.String()
}
