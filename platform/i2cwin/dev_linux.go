//go:build linux

package i2cwin

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"bringup-go/errcode"
)

// linux/i2c-dev.h
const (
	ioctlRDWR = 0x0707
	msgRead   = 0x0001
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	_     uint16
	buf   unsafe.Pointer
}

type rdwrData struct {
	msgs  unsafe.Pointer
	nmsgs uint32
}

// Dev is a host I2C adapter (/dev/i2c-N) that satisfies drivers.I2C. A
// write-then-read Tx goes out as one combined transfer with a repeated start.
type Dev struct {
	mu   sync.Mutex
	f    *os.File
	msgs [2]i2cMsg
}

func OpenDev(path string) (*Dev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errcode.Wrap(errcode.IOError, "open", err)
	}
	return &Dev{f: f}, nil
}

func (d *Dev) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return errcode.New(errcode.IOError, "tx", "closed")
	}
	n := 0
	if len(w) > 0 {
		d.msgs[n] = i2cMsg{addr: addr, len: uint16(len(w)), buf: unsafe.Pointer(&w[0])}
		n++
	}
	if len(r) > 0 {
		d.msgs[n] = i2cMsg{addr: addr, flags: msgRead, len: uint16(len(r)), buf: unsafe.Pointer(&r[0])}
		n++
	}
	if n == 0 {
		return nil
	}
	data := rdwrData{msgs: unsafe.Pointer(&d.msgs[0]), nmsgs: uint32(n)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), ioctlRDWR, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	if errno != 0 {
		return fmt.Errorf("i2c 0x%02x: %w", addr, errno)
	}
	return nil
}

func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
