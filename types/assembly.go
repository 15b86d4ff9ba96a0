package types

// Assembly is the Loader's unit of compilation: the set of types it
// defines (as opposed to merely references) in one module, the unit
// CompileAll's per-assembly loop and the Module Finaliser operate on.
type Assembly struct {
	Name  string
	Types []*Type
}

// DefinedMethods returns every method declared on a type this assembly
// defines, in type-then-declaration order, the iteration order the
// Symbol Emitter and the per-method compile loop both use.
func (a *Assembly) DefinedMethods() []*Method {
	var out []*Method
	for _, t := range a.Types {
		out = append(out, t.Methods...)
	}
	return out
}
