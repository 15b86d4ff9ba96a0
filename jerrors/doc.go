// Package jerrors provides the structured error type shared by every stage
// of the CIL-to-MIR JIT: type registry, signature preparation, the stack
// abstract interpreter, opcode lowering, exception lowering, symbol
// emission, and module finalisation.
//
// Errors are categorized by Phase (which stage raised it) and Kind (one of
// the four failure kinds  names: check-failed, not-found,
// bad-format, out-of-resources). Use the Builder for structured
// construction:
//
//	err := jerrors.New(jerrors.PhaseVerify, jerrors.KindCheckFailed).
//		At("MyClass::Method", 0x12).
//		Detail("stack underflow").
//		Build()
//
// All errors implement the standard error interface and support
// errors.Is/errors.As via Unwrap.
package jerrors
