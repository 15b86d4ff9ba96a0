// Package except implements Exception & Protected-Region Lowering: the
// per-method protected/handler region map, cross-region branch validation,
// and throw/throw_new/leave/endfinally lowering including chained finally
// dispatch.
//
// This package sits upstream of lower: a Lowerer implements lower.Thrower
// and lower.RegionGuard so opcode handlers in lower can dispatch a throw or
// validate a branch without lower importing except (the dependency would
// otherwise cycle, since a throw needs lower.Context to emit anything).
package except

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/lower"
	"github.com/Itay2805/tinydotnet/stack"
	"github.com/Itay2805/tinydotnet/types"
)

// RegionInfo is one protected-region-map entry: a clause plus the labels
// and chain position throw/leave/endfinally lowering consult. EndTarget and
// LastInChain are mutated by Leave each time a leave instruction builds a
// chain through this clause; HandlerLabel is fixed at BuildMap time.
type RegionInfo struct {
	Clause       *types.ExceptionClause
	HandlerLabel backend.Label
	EndTarget    backend.Label
	LastInChain  bool
}

func (r *RegionInfo) tryContains(offset int) bool {
	return offset >= r.Clause.TryOffset && offset < r.Clause.TryOffset+r.Clause.TryLength
}

func (r *RegionInfo) handlerContains(offset int) bool {
	return offset >= r.Clause.HandlerOffset && offset < r.Clause.HandlerOffset+r.Clause.HandlerLength
}

// Lowerer is the per-method protected-region map plus the exception-type
// resolution a throw_new/rethrow needs to allocate and classify exception
// objects. One is built per method, the way lower.Context and
// stack.Interpreter are.
type Lowerer struct {
	method  *types.Method
	regions []*RegionInfo

	// Registry resolves a runtime exception type by its fully-qualified
	// name (e.g. "System.NullReferenceException") to the type, its
	// parameterless constructor, and the register holding its loaded type
	// handle in the method currently being lowered. Wired by the emitter,
	// since type-handle loading is a per-module symbol-resolution concern
	// this package does not own.
	Registry ExceptionTypeRegistry

	reg *types.Registry
}

// ExceptionTypeRegistry resolves the runtime exception types throw_new and
// the verifier-driven runtime checks (null, bounds, divide-by-zero,
// invalid-cast, OOM) construct.
type ExceptionTypeRegistry interface {
	// Resolve returns the type, its parameterless constructor, and a
	// register already loaded (in the method currently being lowered) with
	// that type's runtime type handle.
	Resolve(c *lower.Context, name string) (t *types.Type, ctor backend.Function, typeHandle backend.Reg, err error)
}

// BuildMap constructs the protected-region map for m: one RegionInfo per
// non-filter exception clause, a fresh handler label for each, and the
// stack snapshot a handler's first instruction begins from (a single
// caught-exception slot for a catch clause, empty for finally/fault).
// Filter clauses are rejected, per spec.
func BuildMap(reg *types.Registry, m *types.Method, b backend.Builder, in *stack.Interpreter) (*Lowerer, error) {
	l := &Lowerer{method: m, reg: reg}
	for _, cl := range m.Body.ExceptionClauses {
		if cl.Kind == types.ClauseFilter {
			return nil, jerrors.CheckFailed(jerrors.PhaseExcept, m.Name, cl.HandlerOffset,
				"filter exception clauses are not supported")
		}
		label := b.NewLabel()
		if cl.Kind == types.ClauseCatch {
			in.RecordCatchEntry(cl.HandlerOffset, label, cl.CatchType)
		} else {
			in.RecordHandlerEntry(cl.HandlerOffset, label)
		}
		l.regions = append(l.regions, &RegionInfo{Clause: cl, HandlerLabel: label})
	}
	return l, nil
}

// ValidateBranch implements lower.RegionGuard: a branch may not cross into
// or out of a try-region or a handler-region.
func (l *Lowerer) ValidateBranch(m *types.Method, fromOffset, toOffset int) error {
	for _, r := range l.regions {
		if r.tryContains(fromOffset) != r.tryContains(toOffset) {
			return jerrors.CheckFailed(jerrors.PhaseExcept, m.Name, fromOffset,
				"branch from %d to %d crosses the try-region of a protected clause", fromOffset, toOffset)
		}
		if r.handlerContains(fromOffset) != r.handlerContains(toOffset) {
			return jerrors.CheckFailed(jerrors.PhaseExcept, m.Name, fromOffset,
				"branch from %d to %d crosses the handler-region of a protected clause", fromOffset, toOffset)
		}
	}
	return nil
}

// regionsContaining returns, in declaration order, every region whose
// try-range or handler-range contains offset: the set leave/endfinally walk
// to find enclosing finally/fault clauses.
func (l *Lowerer) regionsContaining(offset int) []*RegionInfo {
	var out []*RegionInfo
	for _, r := range l.regions {
		if r.tryContains(offset) || r.handlerContains(offset) {
			out = append(out, r)
		}
	}
	return out
}

// insideAnyHandler reports whether offset falls inside some clause's
// handler-region, the condition leave uses to decide whether the exception
// register must be cleared (the handler has consumed the exception).
func (l *Lowerer) insideAnyHandler(offset int) bool {
	for _, r := range l.regions {
		if r.handlerContains(offset) {
			return true
		}
	}
	return false
}
