//go:build !linux

package i2cwin

import "bringup-go/errcode"

// Dev is only available on linux.
type Dev struct{}

func OpenDev(path string) (*Dev, error) {
	return nil, errcode.New(errcode.Unsupported, "open", "i2c-dev needs linux: "+path)
}

func (*Dev) Tx(uint16, []byte, []byte) error { return errcode.New(errcode.Unsupported, "tx", "") }
func (*Dev) Close() error                    { return nil }
