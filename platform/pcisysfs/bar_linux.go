//go:build linux

package pcisysfs

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"bringup-go/errcode"
)

// BAR is a memory-mapped PCI resource. Accesses are single 32-bit loads and
// stores so that each touches the device exactly once.
type BAR struct {
	path     string
	mem      []byte
	size     uint32
	readOnly bool
}

// Open maps BAR n of bdf for reading and writing. Root is required.
func Open(bdf string, bar int) (*BAR, error) { return openPath(ResourcePath(bdf, bar), false) }

// OpenReadOnly maps BAR n of bdf for reading only; Write32 is refused.
func OpenReadOnly(bdf string, bar int) (*BAR, error) {
	return openPath(ResourcePath(bdf, bar), true)
}

func openPath(path string, readOnly bool) (*BAR, error) {
	flag, prot := os.O_RDWR|os.O_SYNC, unix.PROT_READ|unix.PROT_WRITE
	if readOnly {
		flag, prot = os.O_RDONLY, unix.PROT_READ
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errcode.Wrap(errcode.IOError, "open", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errcode.Wrap(errcode.IOError, "open", err)
	}
	n := fi.Size()
	if n < 4 || n > 1<<32-4 {
		return nil, errcode.New(errcode.OutOfRange, "open", fmt.Sprintf("%s: size %d", path, n))
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(n), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, errcode.Wrap(errcode.IOError, "mmap", err)
	}
	return &BAR{path: path, mem: mem, size: uint32(n), readOnly: readOnly}, nil
}

func (b *BAR) Size() uint32 { return b.size }

func (b *BAR) String() string {
	mode := "rw"
	if b.readOnly {
		mode = "ro"
	}
	return fmt.Sprintf("%s (%s, %s)", b.path, humanize.IBytes(uint64(b.size)), mode)
}

func (b *BAR) word(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&b.mem[off]))
}

func (b *BAR) Read32(off uint32) (uint32, error) {
	if b.mem == nil {
		return 0, errcode.New(errcode.IOError, "read", "closed")
	}
	if err := check("read", off, b.size); err != nil {
		return 0, err
	}
	return atomic.LoadUint32(b.word(off)), nil
}

// ReadU32 lets a BAR serve as a stream source.
func (b *BAR) ReadU32(off uint32) (uint32, error) { return b.Read32(off) }

func (b *BAR) Write32(off, v uint32) error {
	if b.readOnly {
		return errcode.New(errcode.Unsupported, "write", "read-only mapping")
	}
	if b.mem == nil {
		return errcode.New(errcode.IOError, "write", "closed")
	}
	if err := check("write", off, b.size); err != nil {
		return err
	}
	atomic.StoreUint32(b.word(off), v)
	return nil
}

// Close unmaps the BAR. It is safe to call more than once.
func (b *BAR) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return errcode.Wrap(errcode.IOError, "munmap", err)
}
