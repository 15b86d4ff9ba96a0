package lower

import (
	"github.com/Itay2805/tinydotnet/backend"
)

// Br lowers an unconditional branch: validates the jump against the
// protected-region map before emitting it, and requires the operand stack
// at the branch site be empty or already merged with a snapshot recorded
// at the target (an unconditional branch is the last instruction of its
// basic block).
func (c *Context) Br(fromOffset, toOffset int, target backend.Label) error {
	if err := c.validateBranch(fromOffset, toOffset); err != nil {
		return err
	}
	c.B.Br(target)
	return nil
}

// BrTrue lowers brtrue/brinst: pops the operand, branches to target when
// it is non-zero/non-null.
func (c *Context) BrTrue(fromOffset, toOffset int, target backend.Label) error {
	return c.condBranch(fromOffset, toOffset, target, false)
}

// BrFalse lowers brfalse/brnull/brzero: pops the operand, branches to
// target when it is zero/null.
func (c *Context) BrFalse(fromOffset, toOffset int, target backend.Label) error {
	return c.condBranch(fromOffset, toOffset, target, true)
}

func (c *Context) condBranch(fromOffset, toOffset int, target backend.Label, zero bool) error {
	if err := c.validateBranch(fromOffset, toOffset); err != nil {
		return err
	}
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	c.B.BrIf(v.Reg, target, zero)
	return nil
}

// Switch lowers the switch opcode: pops an Int32 selector and branches to
// targets[selector], or falls through when selector is out of range.
func (c *Context) Switch(fromOffset int, toOffsets []int, targets []backend.Label, fallthroughLabel backend.Label) error {
	for _, to := range toOffsets {
		if err := c.validateBranch(fromOffset, to); err != nil {
			return err
		}
	}
	v, err := c.Stack.Pop()
	if err != nil {
		return err
	}
	c.B.Switch(v.Reg, targets, fallthroughLabel)
	return nil
}
