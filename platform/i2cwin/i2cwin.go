// Package i2cwin exposes a 32-bit register window behind an I2C bridge, as
// found on bench fixtures where the target's BARs are reached through a
// microcontroller. Register addresses go out big-endian (16 bits, or 24 bits
// for windows larger than 64 KiB), data is little-endian (low byte first).
package i2cwin

import (
	"fmt"

	"tinygo.org/x/drivers"

	"bringup-go/errcode"
)

// Bridge addresses (7-bit). The control BAR and the data BAR answer on
// neighbouring addresses.
const (
	DefaultAddress uint16 = 0x3C
	DataAddress    uint16 = 0x3D
)

const maxSize = 1 << 24

type Window struct {
	i2c   drivers.I2C
	addr  uint16
	size  uint32
	abyte int // address bytes on the wire
	w     [7]byte
	r     [4]byte
}

// New binds a window of size bytes at the bridge address. size 0 means the
// full 16-bit space.
func New(i2c drivers.I2C, addr uint16, size uint32) *Window {
	if size == 0 {
		size = 0x10000
	}
	if size > maxSize {
		size = maxSize
	}
	ab := 2
	if size > 0x10000 {
		ab = 3
	}
	return &Window{i2c: i2c, addr: addr, size: size, abyte: ab}
}

func (d *Window) String() string {
	return fmt.Sprintf("i2c@0x%02x (0x%x bytes)", d.addr, d.size)
}

func (d *Window) check(op string, off uint32) error {
	if off%4 != 0 {
		return errcode.New(errcode.Unaligned, op, fmt.Sprintf("offset 0x%x", off))
	}
	if off >= d.size || d.size-off < 4 {
		return errcode.New(errcode.OutOfRange, op, fmt.Sprintf("offset 0x%x beyond 0x%x", off, d.size))
	}
	return nil
}

// putAddr writes the register address and returns the bytes used.
func (d *Window) putAddr(off uint32) int {
	for i := 0; i < d.abyte; i++ {
		d.w[i] = byte(off >> (8 * (d.abyte - 1 - i)))
	}
	return d.abyte
}

func (d *Window) Read32(off uint32) (uint32, error) {
	if err := d.check("read", off); err != nil {
		return 0, err
	}
	n := d.putAddr(off)
	if err := d.i2c.Tx(d.addr, d.w[:n], d.r[:4]); err != nil {
		return 0, errcode.Wrap(errcode.IOError, "read", err)
	}
	return uint32(d.r[0]) | uint32(d.r[1])<<8 | uint32(d.r[2])<<16 | uint32(d.r[3])<<24, nil
}

// ReadU32 lets the window serve as a stream source.
func (d *Window) ReadU32(off uint32) (uint32, error) { return d.Read32(off) }

func (d *Window) Write32(off, v uint32) error {
	if err := d.check("write", off); err != nil {
		return err
	}
	n := d.putAddr(off)
	d.w[n] = byte(v)
	d.w[n+1] = byte(v >> 8)
	d.w[n+2] = byte(v >> 16)
	d.w[n+3] = byte(v >> 24)
	return errcode.Wrap(errcode.IOError, "write", d.i2c.Tx(d.addr, d.w[:n+4], nil))
}
