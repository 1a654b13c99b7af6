// Package engine applies decoded configuration commands to control-plane
// registers as a read-modify-write through the guard.
package engine

import (
	"fmt"

	"bringup-go/drivers/cfgstream"
	"bringup-go/drivers/guard"
	"bringup-go/errcode"
)

// Change is the observed effect of one apply.
type Change struct {
	Offset uint32
	Old    uint32
	New    uint32
	DryRun bool // computed only, nothing written
}

// Engine executes commands through a guard.Access.
type Engine struct {
	acc    *guard.Access
	dryRun bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDryRun reads and computes but never writes.
func WithDryRun() Option { return func(e *Engine) { e.dryRun = true } }

func New(acc *guard.Access, opts ...Option) *Engine {
	e := &Engine{acc: acc}
	for _, o := range opts {
		o(e)
	}
	return e
}

// DryRun reports whether the engine is in dry-run mode.
func (e *Engine) DryRun() bool { return e.dryRun }

// Compute returns the value op produces from old and operand.
func Compute(op cfgstream.OpKind, old uint32, operand uint8) (uint32, error) {
	v := uint32(operand)
	switch op {
	case cfgstream.OpAssign:
		return v, nil
	case cfgstream.OpOr:
		return old | v, nil
	case cfgstream.OpAnd:
		return old & v, nil
	case cfgstream.OpXor:
		return old ^ v, nil
	case cfgstream.OpSetBit:
		return old | 1<<(v&0x1F), nil
	case cfgstream.OpClearBit:
		return old &^ (1 << (v & 0x1F)), nil
	}
	return 0, errcode.New(errcode.Unsupported, "compute", fmt.Sprintf("op 0x%02x", uint8(op)))
}

// Apply runs cmd against physical. A denylisted target yields errcode.Blocked
// with no register access at all; an unknown op yields errcode.Unsupported.
// Success performs exactly one write.
func (e *Engine) Apply(cmd cfgstream.Command, physical uint32) (Change, error) {
	ch := Change{Offset: physical, DryRun: e.dryRun}
	if !cmd.Op.Valid() {
		return ch, errcode.New(errcode.Unsupported, "apply", fmt.Sprintf("op 0x%02x", uint8(cmd.Op)))
	}
	if guard.Denylisted(physical) {
		return ch, blocked(physical, nil)
	}

	old, err := e.acc.Read(physical)
	if err != nil {
		return ch, err
	}
	ch.Old = old
	ch.New, _ = Compute(cmd.Op, old, cmd.Operand)
	if e.dryRun {
		return ch, nil
	}

	if err := e.acc.Write(physical, ch.New); err != nil {
		if errcode.Of(err) == errcode.Denylisted {
			return ch, blocked(physical, err)
		}
		return ch, err
	}
	return ch, nil
}

func blocked(off uint32, cause error) error {
	return &errcode.E{C: errcode.Blocked, Op: "apply", Msg: fmt.Sprintf("offset 0x%04x is denylisted", off), Err: cause}
}
