package jerrors

import (
	"fmt"
	"strings"
)

// Phase indicates which stage of compilation raised the error.
type Phase string

const (
	PhaseTypeLoad Phase = "typeload" // type registry / lattice derivation
	PhaseSig      Phase = "sig"      // signature & accessibility preparation
	PhaseVerify   Phase = "verify"   // stack abstract interpretation
	PhaseLower    Phase = "lower"    // opcode lowering
	PhaseExcept   Phase = "except"   // exception / protected-region lowering
	PhaseEmit     Phase = "emit"     // symbol emission
	PhaseFinalize Phase = "finalize" // module finalisation
)

// Kind categorizes the error using the four kinds  names.
type Kind string

const (
	KindCheckFailed   Kind = "check_failed"   // verifier rejected the CIL
	KindNotFound      Kind = "not_found"      // unresolved token or vtable slot
	KindBadFormat     Kind = "bad_format"     // malformed signature or body
	KindOutOfResources Kind = "out_of_resources" // backend resource exhaustion
)

// Error is the structured error type used throughout the JIT.
type Error struct {
	Cause  error
	Value  any
	Phase  Phase
	Kind   Kind
	Method string // declaring-type-qualified method name, if known
	Offset int    // CIL instruction offset, -1 if not applicable
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Method != "" {
		b.WriteString(" in ")
		b.WriteString(e.Method)
		if e.Offset >= 0 {
			b.WriteString(fmt.Sprintf("+0x%x", e.Offset))
		}
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's Phase and Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides fluent structured error construction.
type Builder struct {
	err Error
}

// New creates a new error builder for the given phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind, Offset: -1}}
}

// At pins the error to a method and CIL instruction offset.
func (b *Builder) At(method string, offset int) *Builder {
	b.err.Method = method
	b.err.Offset = offset
	return b
}

// Value attaches the offending value.
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Convenience constructors mirroring the common failure shapes below.

// CheckFailed reports a verifier rejection.
func CheckFailed(phase Phase, method string, offset int, format string, args ...any) *Error {
	return New(phase, KindCheckFailed).At(method, offset).Detail(format, args...).Build()
}

// NotFound reports an unresolved token, member, or vtable slot.
func NotFound(phase Phase, what, name string) *Error {
	return New(phase, KindNotFound).Detail("%s %q not found", what, name).Build()
}

// BadFormat reports a malformed signature or method body.
func BadFormat(phase Phase, detail string) *Error {
	return New(phase, KindBadFormat).Detail(detail).Build()
}

// OutOfResources reports backend resource exhaustion.
func OutOfResources(phase Phase, detail string, cause error) *Error {
	return New(phase, KindOutOfResources).Detail(detail).Cause(cause).Build()
}

// Wrap wraps an existing error with additional phase/kind context.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause, Offset: -1}
}
