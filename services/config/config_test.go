// config/config_test.go
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"bringup-go/bus"
	"bringup-go/errcode"
	"bringup-go/types"
)

func TestLoadEmbeddedProfile(t *testing.T) {
	c, err := Load("mt7927")
	if err != nil {
		t.Fatal(err)
	}
	if c.Device != "mt7927" || c.ControlBAR != 2 || c.DataBAR != 0 {
		t.Fatalf("device fields %+v", c)
	}
	if c.Stream.Start != 0x80000 || c.Stream.Length != 0x1000 {
		t.Fatalf("stream %+v", c.Stream)
	}
	if len(c.Probes) != 3 || !c.Probes[0].Health || c.Probes[2].Offset != 0x20000 {
		t.Fatalf("probes %+v", c.Probes)
	}
	if c.Identity == nil || c.Identity.Expect != 0x792714c3 || c.Identity.Offset != 0x98 {
		t.Fatalf("identity %+v", c.Identity)
	}
	if c.Preflight != nil {
		t.Fatal("preflight should default to on (unset)")
	}
}

func TestLoadUnknownDevice(t *testing.T) {
	if _, err := Load("mt7961"); errcode.Of(err) != errcode.InvalidConfig {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadFileLayersOverProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bringup.yaml")
	doc := `
device: mt7927
pci_address: "0000:01:00.0"
budget: 100000
settle_ms: 5
dry_run: true
focus: ["0x81"]
table:
  "0x81": "0x0204"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.PCIAddress != "0000:01:00.0" || !c.DryRun || c.SettleMs != 5 {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if c.Budget != MaxBudget {
		t.Fatalf("budget = %d, want clamp to %d", c.Budget, MaxBudget)
	}
	// Profile values survive.
	if c.Stream.Start != 0x80000 || len(c.Probes) != 3 {
		t.Fatalf("profile lost: %+v", c)
	}
	if c.Table["0x81"] != 0x204 || len(c.Focus) != 1 || c.Focus[0] != 0x81 {
		t.Fatalf("table/focus %+v %+v", c.Table, c.Focus)
	}
}

func TestLoadFileJSONWithoutProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	doc := `{"device":"bench","stream":{"start":6,"length":16},"settle_ms":-4}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Stream.Start != 8 || c.SettleMs != 0 || c.Budget != 0 {
		t.Fatalf("normalised %+v", c)
	}
}

func TestLoadFileBadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stream: {start: \"0xZZ\"}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); errcode.Of(err) != errcode.InvalidConfig {
		t.Fatalf("err = %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); errcode.Of(err) != errcode.InvalidConfig {
		t.Fatalf("err = %v", err)
	}
}

func TestConfig_PublishEmbedded_Retained(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "bench" {
			return nil, false
		}
		return []byte(`{"stream": {"start": "0x100"}, "budget": 8}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService(logr.Discard())

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "bench")
	svc.Start(ctx, conn)

	// Retained, so it arrives whether we subscribe before or after the publish.
	sub := conn.Subscribe(bus.T("config", "+"))
	select {
	case m := <-sub.Channel():
		c, ok := m.Payload.(types.BringupConfig)
		if !ok {
			t.Fatalf("payload type %T", m.Payload)
		}
		if c.Device != "bench" || c.Stream.Start != 0x100 || c.Budget != 8 {
			t.Fatalf("config %+v", c)
		}
		if !m.Retained {
			t.Fatal("config must be retained")
		}
	case <-time.After(600 * time.Millisecond):
		t.Fatal("timeout waiting for retained config")
	}
}

func TestConfig_PublishConfig_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService(logr.Discard())

	if err := svc.publishConfig(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService(logr.Discard())

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if err := svc.publishConfig(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}

func TestDevices(t *testing.T) {
	if d := Devices(); len(d) == 0 || d[0] != "mt7927" {
		t.Fatalf("Devices() = %v", d)
	}
}

func TestConfig_OverrideIsNormalised(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-override")
	svc := NewConfigService(logr.Discard())
	svc.Override = func(c *types.BringupConfig) {
		c.DryRun = true
		c.Budget = 1 << 20
	}

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "mt7927")
	if err := svc.publishConfig(ctx, conn); err != nil {
		t.Fatal(err)
	}
	sub := conn.Subscribe(bus.T("config", "bringup"))
	c := (<-sub.Channel()).Payload.(types.BringupConfig)
	if !c.DryRun || c.Budget != MaxBudget {
		t.Fatalf("config %+v", c)
	}
}
