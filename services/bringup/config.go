package bringup

import (
	"fmt"
	"strconv"
	"time"

	"bringup-go/drivers/liveness"
	"bringup-go/drivers/regmap"
	"bringup-go/errcode"
	"bringup-go/types"
)

// FromConfig turns a bus configuration into supervisor settings. Unknown
// strategies, rules and regions, or logical indices that do not fit a byte,
// are errcode.InvalidConfig.
func FromConfig(c types.BringupConfig) (Config, error) {
	out := Config{
		StreamStart:      uint32(c.Stream.Start),
		StreamLength:     uint32(c.Stream.Length),
		SkipUnclassified: c.Stream.SkipUnclassified,
		Budget:           c.Budget,
		Settle:           time.Duration(c.SettleMs) * time.Millisecond,
		DryRun:           c.DryRun,
		NoPreflight:      c.Preflight != nil && !*c.Preflight,
		PCIAddress:       c.PCIAddress,
		StreamDigest:     true,
	}

	for _, name := range c.Strategies {
		st, err := regmap.ParseStrategy(name)
		if err != nil {
			return Config{}, invalid(err)
		}
		out.Strategies = append(out.Strategies, st)
	}

	var table map[uint8]uint32
	if len(c.Table) > 0 {
		table = make(map[uint8]uint32, len(c.Table))
		for k, v := range c.Table {
			logical, err := logicalIndex(k)
			if err != nil {
				return Config{}, invalid(err)
			}
			table[logical] = uint32(v)
		}
	}
	var ropts []regmap.Option
	if c.Window != 0 {
		ropts = append(ropts, regmap.WithWindow(uint32(c.Window)))
	}
	out.Resolver = regmap.New(table, ropts...)

	for i, pc := range c.Probes {
		p, err := probeFromConfig(pc)
		if err != nil {
			return Config{}, invalid(fmt.Errorf("probe %d: %w", i, err))
		}
		out.Probes = append(out.Probes, p)
	}

	for _, f := range c.Focus {
		if f > 0xFF {
			return Config{}, invalid(fmt.Errorf("focus target %s does not fit a byte", f))
		}
		out.Focus = append(out.Focus, uint8(f))
	}
	return out, nil
}

func probeFromConfig(pc types.ProbeConfig) (liveness.Probe, error) {
	region, err := liveness.ParseRegion(pc.Region)
	if err != nil {
		return liveness.Probe{}, err
	}
	p := liveness.Probe{Name: pc.Name, Region: region, Offset: uint32(pc.Offset), Health: pc.Health}
	if p.Name == "" {
		p.Name = fmt.Sprintf("%s@0x%x", region, p.Offset)
	}
	// A health probe only watches for the fault sentinel unless a rule is given.
	if pc.Health && pc.Rule == "" {
		return p, nil
	}
	p.Active, err = liveness.ParseRule(pc.Rule)
	return p, err
}

func logicalIndex(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("logical register %q: want 0..0xff", s)
	}
	return uint8(v), nil
}

func invalid(err error) error { return errcode.Wrap(errcode.InvalidConfig, "config", err) }
