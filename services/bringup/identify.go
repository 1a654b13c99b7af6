package bringup

import (
	"fmt"

	"bringup-go/drivers/guard"
	"bringup-go/drivers/liveness"
	"bringup-go/errcode"
)

// Reference device identity.
const (
	ChipIDOffset uint32 = 0x0098
	ChipID       uint32 = 0x792714c3
)

// Identify reads the chip id register (read only) and compares it with
// expect. A fault sentinel read is reported as errcode.Faulted.
func Identify(acc *guard.Access, offset, expect uint32) (uint32, error) {
	v, err := acc.Read(offset)
	if err != nil {
		return 0, err
	}
	if v == liveness.FaultSentinel {
		return v, errcode.New(errcode.Faulted, "identify",
			fmt.Sprintf("offset 0x%04x reads 0x%08x", offset, v))
	}
	if v != expect {
		return v, errcode.New(errcode.IdentityMismatch, "identify",
			fmt.Sprintf("offset 0x%04x reads 0x%08x, want 0x%08x", offset, v, expect))
	}
	return v, nil
}

// ScratchRegisters are writable without side effects on the reference device.
var ScratchRegisters = []uint32{0x0020, 0x0024}

// ScratchPatterns exercise every bit in both states.
var ScratchPatterns = []uint32{
	0x00000000, 0xFFFFFFFF, 0x5A5A5A5A, 0xA5A5A5A5,
	0x12345678, 0xDEADBEEF, 0xCAFEBABE, 0x00FF00FF,
}

// ScratchResult is the outcome for one register.
type ScratchResult struct {
	Offset   uint32
	Original uint32
	Failed   []uint32 // patterns that did not read back
	Restored bool
}

// ScratchCheck writes each pattern to each offset through the guard, reads it
// back and restores the original value. It stops at the first access error;
// readback mismatches are collected and reported as one error at the end.
func ScratchCheck(acc *guard.Access, offsets, patterns []uint32) ([]ScratchResult, error) {
	var out []ScratchResult
	bad := 0
	for _, off := range offsets {
		orig, err := acc.Read(off)
		if err != nil {
			return out, err
		}
		res := ScratchResult{Offset: off, Original: orig}
		for _, p := range patterns {
			if err := acc.Write(off, p); err != nil {
				return append(out, res), err
			}
			got, err := acc.Read(off)
			if err != nil {
				return append(out, res), err
			}
			if got != p {
				res.Failed = append(res.Failed, p)
			}
		}
		if err := acc.Write(off, orig); err != nil {
			return append(out, res), err
		}
		got, err := acc.Read(off)
		if err != nil {
			return append(out, res), err
		}
		res.Restored = got == orig
		if len(res.Failed) > 0 || !res.Restored {
			bad++
		}
		out = append(out, res)
	}
	if bad > 0 {
		return out, errcode.New(errcode.IOError, "scratch", fmt.Sprintf("%d of %d registers failed readback", bad, len(offsets)))
	}
	return out, nil
}
