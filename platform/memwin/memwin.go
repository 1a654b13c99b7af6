// Package memwin provides in-memory register windows: a sparse 32-bit
// register file with bounds checks, a write log, write hooks and read fault
// injection. It backs the simulated device and tests.
package memwin

import (
	"fmt"
	"sync"

	"bringup-go/errcode"
)

// Write is one logged write.
type Write struct {
	Offset uint32
	Value  uint32
}

// Hook runs after a write lands. It is called without the window lock held.
type Hook func(w *Window, off, v uint32)

// Window is a sparse, thread-safe register window of Size bytes.
type Window struct {
	name string
	size uint32

	mu     sync.Mutex
	regs   map[uint32]uint32
	log    []Write
	hooks  []Hook
	faults map[uint32]error
	wedged bool
}

// New creates an empty window. size 0 means unbounded.
func New(name string, size uint32) *Window {
	return &Window{name: name, size: size, regs: map[uint32]uint32{}, faults: map[uint32]error{}}
}

func (w *Window) Name() string { return w.name }
func (w *Window) Size() uint32 { return w.size }

func (w *Window) check(op string, off uint32) error {
	if off%4 != 0 {
		return errcode.New(errcode.Unaligned, op, fmt.Sprintf("%s offset 0x%x", w.name, off))
	}
	if w.size != 0 && (off >= w.size || w.size-off < 4) {
		return errcode.New(errcode.OutOfRange, op, fmt.Sprintf("%s offset 0x%x beyond 0x%x", w.name, off, w.size))
	}
	return nil
}

// Read32 returns the register at off. A wedged window reads all ones.
func (w *Window) Read32(off uint32) (uint32, error) {
	if err := w.check("read", off); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.faults[off]; err != nil {
		return 0, err
	}
	if w.wedged {
		return 0xFFFFFFFF, nil
	}
	return w.regs[off], nil
}

// ReadU32 lets a window act as a stream source.
func (w *Window) ReadU32(off uint32) (uint32, error) { return w.Read32(off) }

// Write32 stores v, logs it and runs hooks. Writes to a wedged window are
// logged but have no effect.
func (w *Window) Write32(off, v uint32) error {
	if err := w.check("write", off); err != nil {
		return err
	}
	w.mu.Lock()
	w.log = append(w.log, Write{Offset: off, Value: v})
	if w.wedged {
		w.mu.Unlock()
		return nil
	}
	w.regs[off] = v
	hooks := append([]Hook(nil), w.hooks...)
	w.mu.Unlock()

	for _, h := range hooks {
		h(w, off, v)
	}
	return nil
}

// Set stores v without logging or hooks (device-side update).
func (w *Window) Set(off, v uint32) {
	w.mu.Lock()
	w.regs[off] = v
	w.mu.Unlock()
}

// Get reads without checks or fault injection.
func (w *Window) Get(off uint32) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.regs[off]
}

// LoadWords stores words contiguously from base.
func (w *Window) LoadWords(base uint32, words []uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, v := range words {
		w.regs[base+uint32(i)*4] = v
	}
}

// OnWrite registers a hook.
func (w *Window) OnWrite(h Hook) {
	w.mu.Lock()
	w.hooks = append(w.hooks, h)
	w.mu.Unlock()
}

// FailReads makes reads of off return err (nil clears it).
func (w *Window) FailReads(off uint32, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.faults, off)
		return
	}
	w.faults[off] = err
}

// Wedge makes every later read return the all-ones fault pattern, as a
// PCIe function does once it stops responding.
func (w *Window) Wedge() {
	w.mu.Lock()
	w.wedged = true
	w.mu.Unlock()
}

func (w *Window) Wedged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wedged
}

// Writes returns a copy of the write log.
func (w *Window) Writes() []Write {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Write(nil), w.log...)
}
