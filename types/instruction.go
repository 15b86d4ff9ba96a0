package types

// Opcode enumerates the decoded CIL instruction families Opcode Lowering
// implements. Token resolution (method/field/type references, string
// literals) and raw bytecode decoding are the Loader's concern per the
// external-interfaces boundary; an Instruction is what the Loader hands the
// JIT once every token has already been resolved to a Method/Field/Type
// reference.
type Opcode int

const (
	OpNop Opcode = iota

	OpLdArg
	OpLdArgA
	OpStArg
	OpLdLoc
	OpLdLocA
	OpStLoc

	OpLdNull
	OpLdcI4
	OpLdcI8
	OpLdcR4
	OpLdcR8
	OpLdStr
	OpDup
	OpPop

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpNeg
	OpNot

	OpConvI4
	OpConvI8
	OpConvIPtr
	OpConvR4
	OpConvR8

	OpCeq
	OpCgt
	OpClt

	OpLdFld
	OpStFld
	OpLdFldA
	OpLdSFld
	OpStSFld
	OpLdSFldA

	OpNewArr
	OpLdLen
	OpStElem
	OpLdElem
	OpLdElemA

	OpIsInst
	OpCastClass
	OpBox
	OpUnboxAny

	OpCall
	OpCallVirt
	OpNewObj
	OpRet

	OpBr
	OpBrTrue
	OpBrFalse
	OpBEQ
	OpBNE
	OpBGE
	OpBGT
	OpBLE
	OpBLT
	OpSwitch

	OpThrow
	OpLeave
	OpEndFinally
)

// Instruction is one decoded CIL instruction, already resolved against the
// Loader's metadata tables. Only the fields relevant to Opcode are
// populated; the rest are left at their zero value.
type Instruction struct {
	Offset int
	Length int // byte length in the original CIL stream, for computing fallthrough/branch targets
	Opcode Opcode

	// Index operands: local/argument slot for Ld/St{Arg,Loc}[A].
	Index int

	// Immediate operands for Ldc.*.
	IntValue    int64
	FloatValue  float64
	StringValue string

	// Field/Method/Type are the token-resolved operands of field access,
	// call, cast, newobj/newarr, and box instructions.
	Field  *Field
	Method *Method
	Type   *Type

	// Unsigned marks an unsigned arithmetic/compare/branch variant
	// (div.un, rem.un, cgt.un, clt.un, bge.un, ...).
	Unsigned bool

	// ToInterface marks isinst/castclass targeting an interface type
	// rather than a concrete class.
	ToInterface bool

	// BranchTarget is the single target offset of an unconditional/
	// conditional branch or leave.
	BranchTarget int
	// SwitchTargets holds every case target offset for OpSwitch, in
	// selector order.
	SwitchTargets []int
}
