package types

import "github.com/Itay2805/tinydotnet/jerrors"

// GetInterfaceImpl looks up T's implementation entry for interface I,
// walking T's base chain (a derived type inherits its base's interface
// implementations).
func GetInterfaceImpl(t, iface *Type) (*InterfaceImpl, error) {
	for c := t; c != nil; c = c.BaseType {
		for _, impl := range c.InterfaceImpls {
			if impl.Interface == iface {
				return impl, nil
			}
		}
	}
	return nil, jerrors.NotFound(jerrors.PhaseTypeLoad, "interface implementation", iface.Name)
}

// GetInterfaceMethodImpl looks up which of T's vtable slots implements
// interface method m. The returned offset, added to m's slot index within
// the interface's own virtual-method table, indexes T's vtable.
func GetInterfaceMethodImpl(t *Type, m *Method) (*InterfaceImpl, int, error) {
	impl, err := GetInterfaceImpl(t, m.DeclaringType)
	if err != nil {
		return nil, 0, err
	}
	for i, im := range m.DeclaringType.VirtualMethods {
		if im == m {
			return impl, impl.VTableOffset + i, nil
		}
	}
	return nil, 0, jerrors.NotFound(jerrors.PhaseTypeLoad, "interface method", m.Name)
}
