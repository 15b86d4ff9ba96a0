// Package sig implements Method Signature Preparation: the
// return-value convention, this-parameter prepension, value-type block
// arguments, and the forward/import declaration choice for a method.
//
// The flatCount/resultSize/usesRetptr-style classification here plays the
// same role as a canonical-ABI flattening pass: a method signature is
// reduced to a fixed shape the backend's Builder can generate a call or
// prologue from without re-inspecting the original type.
package sig

import (
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/types"
)

// ResultShape classifies how a method's return value is conveyed.
type ResultShape int

const (
	// ResultNone: no return; 1 result slot, exception only.
	ResultNone ResultShape = iota
	// ResultValue: primitive/reference return; 2 result slots, (exception, value).
	ResultValue
	// ResultBlock: value-type (BLK) return; 1 result slot (exception), caller
	// passes a hidden return_block pointer argument.
	ResultBlock
)

// ParamKind distinguishes how a parameter is physically passed.
type ParamKind int

const (
	ParamScalar ParamKind = iota // a single backend scalar arg
	ParamBlock                   // a block argument with explicit byte size
)

// PreparedParam is one physical argument of the emitted function.
type PreparedParam struct {
	Name string
	Type *types.Type
	Kind ParamKind
	Size int // valid when Kind == ParamBlock
}

// Prototype is the emitter-facing shape of a method signature, built once
// per method before any opcode lowering begins.
type Prototype struct {
	Method      *types.Method
	ResultShape ResultShape
	// HasReturnBlock is true iff ResultShape == ResultBlock; the hidden
	// pointer parameter is PreparedParams[0] in that case.
	HasReturnBlock bool
	PreparedParams []PreparedParam
	// External is true when the method is defined outside the current
	// module, in which case the emitter produces an import declaration
	// instead of a forward declaration.
	External bool
}

// Prepare builds the Prototype for m. external indicates the method is not
// defined in the assembly currently being compiled; internal-call, unmanaged, and abstract methods are always treated
// as import-shaped regardless of external, since they have no CIL body to
// lower.
func Prepare(reg *types.Registry, m *types.Method, external bool) (*Prototype, error) {
	p := &Prototype{
		Method:   m,
		External: external || m.IsInternalCall || m.IsUnmanaged || m.IsAbstract,
	}

	switch {
	case m.ReturnType == nil:
		p.ResultShape = ResultNone
	case m.ReturnType.IsValueType && !m.ReturnType.IsEnum:
		p.ResultShape = ResultBlock
		p.HasReturnBlock = true
	default:
		p.ResultShape = ResultValue
	}

	var params []PreparedParam

	if p.HasReturnBlock {
		retBlockType, err := reg.ByRefTypeOf(m.ReturnType)
		if err != nil {
			return nil, jerrors.Wrap(jerrors.PhaseSig, jerrors.KindBadFormat, err,
				"prepare return_block parameter")
		}
		params = append(params, PreparedParam{Name: "return_block", Type: retBlockType, Kind: ParamScalar})
	}

	if !m.IsStatic {
		thisType := m.DeclaringType
		kind := ParamScalar
		if thisType.IsValueType {
			var err error
			thisType, err = reg.ByRefTypeOf(thisType)
			if err != nil {
				return nil, jerrors.Wrap(jerrors.PhaseSig, jerrors.KindBadFormat, err,
					"prepare this parameter")
			}
		}
		params = append(params, PreparedParam{Name: "this", Type: thisType, Kind: kind})
	}

	for _, param := range m.Parameters {
		if param.Type.IsValueType && !param.Type.IsEnum {
			params = append(params, PreparedParam{
				Name: param.Name,
				Type: param.Type,
				Kind: ParamBlock,
				Size: param.Type.ManagedSize,
			})
			continue
		}
		params = append(params, PreparedParam{Name: param.Name, Type: param.Type, Kind: ParamScalar})
	}

	p.PreparedParams = params
	return p, nil
}

// ResultSlotCount returns how many backend result slots this prototype
// needs.
func (p *Prototype) ResultSlotCount() int {
	if p.ResultShape == ResultValue {
		return 2
	}
	return 1
}
