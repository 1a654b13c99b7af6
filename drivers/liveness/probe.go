// Package liveness decides, from a handful of hardware-visible values, whether
// the target subsystem is still dormant, has come alive, or has faulted.
package liveness

import (
	"fmt"
	"strconv"
	"strings"
)

// FaultSentinel is what a wedged PCIe function returns for every read.
const FaultSentinel uint32 = 0xFFFFFFFF

// Region selects which mapped window a probe reads.
type Region uint8

const (
	RegionControl Region = iota // register window (BAR2 on the reference device)
	RegionData                  // memory window (BAR0)
)

func (r Region) String() string {
	if r == RegionData {
		return "data"
	}
	return "control"
}

// ParseRegion accepts "control" or "data".
func ParseRegion(s string) (Region, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "control", "bar2":
		return RegionControl, nil
	case "data", "bar0":
		return RegionData, nil
	}
	return 0, fmt.Errorf("unknown region %q", s)
}

// Predicate interprets a probe value.
type Predicate func(v uint32) bool

// Probe is a named location plus an activation rule. Health probes are checked
// for the fault sentinel before anything else.
type Probe struct {
	Name   string
	Region Region
	Offset uint32
	Health bool
	Active Predicate // nil: never reports active
}

// NotBlank: neither all-zero nor all-ones.
func NotBlank(v uint32) bool { return v != 0 && v != FaultSentinel }

// NonZero: anything but zero.
func NonZero(v uint32) bool { return v != 0 }

// Always reports a fixed answer.
func Always(b bool) Predicate { return func(uint32) bool { return b } }

// Never is for probes that are only sampled for their value.
func Never(uint32) bool { return false }

// Differs is true once the value moves away from baseline (and is not the
// fault sentinel).
func Differs(baseline uint32) Predicate {
	return func(v uint32) bool { return v != baseline && v != FaultSentinel }
}

// Equals is true when the value matches want exactly.
func Equals(want uint32) Predicate {
	return func(v uint32) bool { return v == want }
}

// ParseRule builds a predicate from its config form:
//
//	not_blank | nonzero | always | never | differs:<u32> | equals:<u32>
func ParseRule(rule string) (Predicate, error) {
	rule = strings.ToLower(strings.TrimSpace(rule))
	name, arg, hasArg := strings.Cut(rule, ":")
	switch name {
	case "", "not_blank":
		return NotBlank, nil
	case "nonzero":
		return NonZero, nil
	case "always":
		return Always(true), nil
	case "never", "none":
		return nil, nil
	case "differs", "equals":
		if !hasArg {
			return nil, fmt.Errorf("rule %q needs a value", name)
		}
		v, err := strconv.ParseUint(strings.TrimSpace(arg), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule, err)
		}
		if name == "differs" {
			return Differs(uint32(v)), nil
		}
		return Equals(uint32(v)), nil
	}
	return nil, fmt.Errorf("unknown rule %q", rule)
}

// Reference device locations.
const (
	offChipStatus = 0x0000   // control
	offFWStatus   = 0x0200   // control
	offMainMemory = 0x000000 // data
	offDMAMemory  = 0x020000 // data

	// FWStatusIdle is the firmware status value of a never-booted device.
	FWStatusIdle uint32 = 0xFFFF10F1
)

// DefaultProbes is the probe set for the reference device, in evaluation order.
func DefaultProbes() []Probe {
	return []Probe{
		{Name: "chip_status", Region: RegionControl, Offset: offChipStatus, Health: true},
		{Name: "main_memory", Region: RegionData, Offset: offMainMemory, Active: NotBlank},
		{Name: "dma_memory", Region: RegionData, Offset: offDMAMemory, Active: NotBlank},
	}
}

// FirmwareStatusProbe reports active once FW_STATUS leaves its idle value. It
// is not in the default set: on the reference device it only moves together
// with the data probes.
func FirmwareStatusProbe() Probe {
	return Probe{Name: "fw_status", Region: RegionControl, Offset: offFWStatus, Active: Differs(FWStatusIdle)}
}
