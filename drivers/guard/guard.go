// Package guard is the single path through which control-plane registers are
// written. Every write is checked against a fixed denylist of offsets known to
// hang the control plane; a denied write never reaches the hardware.
package guard

import (
	"fmt"
	"sync/atomic"

	"bringup-go/errcode"
)

// RegisterIO is the raw memory-mapped register window supplied by the
// platform. Only Access calls Write32.
type RegisterIO interface {
	Read32(offset uint32) (uint32, error)
	Write32(offset, value uint32) error
}

// Offsets observed to wedge the control plane when written (BAR2 danger zones).
var denylist = [...]uint32{0x00A4, 0x00B8, 0x00CC, 0x00DC}

// Denylisted reports whether a write to offset is forbidden.
func Denylisted(offset uint32) bool {
	for _, d := range denylist {
		if d == offset {
			return true
		}
	}
	return false
}

// Denylist returns a copy of the denied offsets.
func Denylist() []uint32 {
	out := make([]uint32, len(denylist))
	copy(out, denylist[:])
	return out
}

// Access wraps a RegisterIO with the denylist and a fault fence.
type Access struct {
	io     RegisterIO
	fenced atomic.Bool
	writes atomic.Uint64
}

func New(io RegisterIO) *Access {
	return &Access{io: io}
}

// Read passes through to the window.
func (a *Access) Read(offset uint32) (uint32, error) {
	v, err := a.io.Read32(offset)
	if err != nil {
		return 0, wrapIO("read32", offset, err)
	}
	return v, nil
}

// Write forwards to the window unless offset is denylisted or the access has
// been fenced.
func (a *Access) Write(offset, value uint32) error {
	if Denylisted(offset) {
		return &errcode.E{C: errcode.Denylisted, Op: "write32", Msg: fmt.Sprintf("offset 0x%04x", offset)}
	}
	if a.fenced.Load() {
		return &errcode.E{C: errcode.Fenced, Op: "write32", Msg: fmt.Sprintf("offset 0x%04x", offset)}
	}
	a.writes.Add(1)
	if err := a.io.Write32(offset, value); err != nil {
		return wrapIO("write32", offset, err)
	}
	return nil
}

// Fence refuses every later write. It cannot be undone; a faulted control
// plane needs an out-of-process reset.
func (a *Access) Fence() { a.fenced.Store(true) }

// Fenced reports whether Fence was called.
func (a *Access) Fenced() bool { return a.fenced.Load() }

// Writes is the number of writes handed to the window.
func (a *Access) Writes() uint64 { return a.writes.Load() }

func wrapIO(op string, offset uint32, err error) error {
	c := errcode.Of(err)
	if c == errcode.Error {
		c = errcode.IOError
	}
	return &errcode.E{C: c, Op: op, Msg: fmt.Sprintf("offset 0x%04x", offset), Err: err}
}
