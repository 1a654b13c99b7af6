// Package pcisysfs maps a PCI BAR through sysfs and exposes it as a 32-bit
// register window.
package pcisysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bringup-go/errcode"
)

// SysfsRoot is where PCI functions are enumerated. Tests point it elsewhere.
var SysfsRoot = "/sys/bus/pci/devices"

// ResourcePath returns the sysfs file backing BAR n of the function at bdf.
func ResourcePath(bdf string, bar int) string {
	return filepath.Join(SysfsRoot, bdf, "resource"+strconv.Itoa(bar))
}

// IDs reads the vendor and device identifiers of the function at bdf.
func IDs(bdf string) (vendor, device uint16, err error) {
	read := func(name string) (uint16, error) {
		b, err := os.ReadFile(filepath.Join(SysfsRoot, bdf, name))
		if err != nil {
			return 0, errcode.Wrap(errcode.IOError, "ids", err)
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 0, 16)
		if err != nil {
			return 0, errcode.Wrap(errcode.IOError, "ids", fmt.Errorf("%s: %w", name, err))
		}
		return uint16(v), nil
	}
	if vendor, err = read("vendor"); err != nil {
		return 0, 0, err
	}
	if device, err = read("device"); err != nil {
		return 0, 0, err
	}
	return vendor, device, nil
}

func check(op string, off, size uint32) error {
	if off%4 != 0 {
		return errcode.New(errcode.Unaligned, op, fmt.Sprintf("offset 0x%x", off))
	}
	if off >= size || size-off < 4 {
		return errcode.New(errcode.OutOfRange, op, fmt.Sprintf("offset 0x%x beyond 0x%x", off, size))
	}
	return nil
}
