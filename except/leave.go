package except

import (
	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/jerrors"
	"github.com/Itay2805/tinydotnet/lower"
	"github.com/Itay2805/tinydotnet/types"
)

// Leave lowers leave at fromOffset, jumping (eventually) to targetLabel at
// toOffset: every finally clause whose try-range or handler-range contains
// fromOffset is chained in declaration order (each one's recorded
// end-target set to the next finally's handler label, the last one's set
// to targetLabel), and control jumps to the first finally in the chain. A
// leave with no enclosing finally jumps straight to targetLabel. A leave
// inside a handler region additionally clears c.ExcReg first, since the
// handler has already consumed the exception it was entered to handle. A
// leave outside every protected region is rejected.
func (l *Lowerer) Leave(c *lower.Context, fromOffset, toOffset int, targetLabel backend.Label) error {
	enclosing := l.regionsContaining(fromOffset)
	if len(enclosing) == 0 {
		return jerrors.CheckFailed(jerrors.PhaseExcept, l.method.Name, fromOffset,
			"leave outside any protected region")
	}

	if l.insideAnyHandler(fromOffset) {
		zero := c.Stack.AllocPublic()
		c.B.MoveImmI64(zero, 0)
		c.B.Move(c.ExcReg, zero)
	}

	var chain []*RegionInfo
	for _, r := range enclosing {
		if r.Clause.Kind == types.ClauseFinally {
			chain = append(chain, r)
		}
	}

	if len(chain) == 0 {
		c.B.Br(targetLabel)
		return nil
	}

	for i, r := range chain {
		r.LastInChain = i == len(chain)-1
		if i == len(chain)-1 {
			r.EndTarget = targetLabel
		} else {
			r.EndTarget = chain[i+1].HandlerLabel
		}
	}
	c.B.Br(chain[0].HandlerLabel)
	return nil
}

// EndFinally lowers endfinally for the clause whose handler region owns the
// instruction at offset: jumps to the clause's recorded end-target. If the
// clause is last in its current leave's chain, a preceding check tests
// whether c.ExcReg is still non-zero (a fault/finally left an exception
// in flight rather than a leave) and, if so, returns from the method
// re-propagating it.
func (l *Lowerer) EndFinally(c *lower.Context, offset int) error {
	r := l.handlerOwning(offset)
	if r == nil {
		return jerrors.CheckFailed(jerrors.PhaseExcept, l.method.Name, offset,
			"endfinally outside any handler region")
	}
	if r.Clause.Kind != types.ClauseFinally && r.Clause.Kind != types.ClauseFault {
		return jerrors.CheckFailed(jerrors.PhaseExcept, l.method.Name, offset,
			"endfinally inside a non-finally/fault handler")
	}

	if r.LastInChain {
		zero := c.Stack.AllocPublic()
		c.B.MoveImmI64(zero, 0)
		skip := c.B.NewLabel()
		c.B.CompareBranch(c.ExcReg, zero, backend.ValPtr, backend.CmpEQ, false, skip)
		c.B.Return([]backend.Reg{c.ExcReg})
		c.B.BindLabel(skip)
	}
	c.B.Br(r.EndTarget)
	return nil
}

// handlerOwning returns the region whose handler-range contains offset, or
// nil.
func (l *Lowerer) handlerOwning(offset int) *RegionInfo {
	for _, r := range l.regions {
		if r.handlerContains(offset) {
			return r
		}
	}
	return nil
}
