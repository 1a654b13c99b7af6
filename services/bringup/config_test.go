package bringup

import (
	"testing"
	"time"

	"bringup-go/drivers/liveness"
	"bringup-go/drivers/regmap"
	"bringup-go/errcode"
	"bringup-go/types"
)

func TestFromConfig(t *testing.T) {
	off := false
	c := types.BringupConfig{
		Device:     "mt7927",
		PCIAddress: "0000:01:00.0",
		Stream:     types.StreamConfig{Start: 0x80000, Length: 0x1000, SkipUnclassified: true},
		Strategies: []string{"identity", "direct"},
		Table:      map[string]types.Hex{"0x20": 0x20, "129": 0x204, "0x30": 0x9000},
		Window:     0x8000,
		Probes: []types.ProbeConfig{
			{Name: "chip_status", Region: "control", Offset: 0, Health: true},
			{Name: "fw", Region: "control", Offset: 0x200, Rule: "differs:0xffff10f1"},
		},
		Budget:    64,
		SettleMs:  10,
		DryRun:    true,
		Preflight: &off,
		Focus:     []types.Hex{0x81},
	}
	sc, err := FromConfig(c)
	if err != nil {
		t.Fatal(err)
	}
	if sc.StreamStart != 0x80000 || sc.StreamLength != 0x1000 || !sc.SkipUnclassified {
		t.Fatalf("stream %+v", sc)
	}
	if len(sc.Strategies) != 2 || sc.Strategies[0] != regmap.Identity || sc.Strategies[1] != regmap.DirectTable {
		t.Fatalf("strategies %v", sc.Strategies)
	}
	if off, ok := sc.Resolver.Resolve(regmap.DirectTable, 0x81); !ok || off != 0x204 {
		t.Fatalf("table lookup 0x81 = 0x%x, %v", off, ok)
	}
	if _, ok := sc.Resolver.Resolve(regmap.DirectTable, 0x30); ok {
		t.Fatal("window not applied")
	}
	if sc.Settle != 10*time.Millisecond || sc.Budget != 64 || !sc.DryRun || !sc.NoPreflight {
		t.Fatalf("knobs %+v", sc)
	}
	if len(sc.Probes) != 2 || sc.Probes[0].Active != nil || !sc.Probes[0].Health {
		t.Fatalf("probes %+v", sc.Probes)
	}
	if sc.Probes[1].Active(liveness.FWStatusIdle) || !sc.Probes[1].Active(1) {
		t.Fatal("differs rule not applied")
	}
	if len(sc.Focus) != 1 || sc.Focus[0] != 0x81 {
		t.Fatalf("focus %v", sc.Focus)
	}
}

func TestFromConfigDefaults(t *testing.T) {
	sc, err := FromConfig(types.BringupConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if sc.NoPreflight || sc.Strategies != nil || sc.Probes != nil {
		t.Fatalf("defaults %+v", sc)
	}
	if sc.Resolver.TableSize() != len(regmap.KnownTable()) {
		t.Fatal("empty table should fall back to the known one")
	}
}

func TestFromConfigRejects(t *testing.T) {
	bad := []types.BringupConfig{
		{Strategies: []string{"guess"}},
		{Table: map[string]types.Hex{"0x100": 0x0}},
		{Probes: []types.ProbeConfig{{Region: "bar9"}}},
		{Probes: []types.ProbeConfig{{Rule: "sometimes"}}},
		{Focus: []types.Hex{0x1FF}},
	}
	for i, c := range bad {
		if _, err := FromConfig(c); errcode.Of(err) != errcode.InvalidConfig {
			t.Errorf("case %d: err = %v, want invalid_config", i, err)
		}
	}
}
