//go:build !linux

package pcisysfs

import "bringup-go/errcode"

// BAR is unavailable off Linux.
type BAR struct{}

func Open(string, int) (*BAR, error) {
	return nil, errcode.New(errcode.Unsupported, "open", "pci sysfs requires linux")
}

func OpenReadOnly(string, int) (*BAR, error) {
	return nil, errcode.New(errcode.Unsupported, "open", "pci sysfs requires linux")
}

func (*BAR) Size() uint32 { return 0 }
func (*BAR) String() string { return "unavailable" }
func (*BAR) Read32(uint32) (uint32, error) { return 0, errcode.New(errcode.Unsupported, "read", "") }
func (*BAR) ReadU32(uint32) (uint32, error) { return 0, errcode.New(errcode.Unsupported, "read", "") }
func (*BAR) Write32(uint32, uint32) error { return errcode.New(errcode.Unsupported, "write", "") }
func (*BAR) Close() error { return nil }
