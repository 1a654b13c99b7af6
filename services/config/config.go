package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"

	"bringup-go/bus"
	"bringup-go/errcode"
	"bringup-go/types"
	"bringup-go/x/mathx"
)

const (
	serviceName  = "config"
	CtxDeviceKey = "device" // context key used for device ID
	CtxFileKey   = "file"   // context key for an optional config file path
)

// Bounds applied by Normalize.
const (
	MinBudget   = 1
	MaxBudget   = 4096
	MaxSettleMs = 1000
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Devices lists the embedded profiles.
func Devices() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Parse decodes a YAML or JSON document into a config and normalises it.
func Parse(raw []byte) (types.BringupConfig, error) {
	var c types.BringupConfig
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, errcode.Wrap(errcode.InvalidConfig, "parse", err)
	}
	return Normalize(c), nil
}

// Load returns the embedded profile for device.
func Load(device string) (types.BringupConfig, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return types.BringupConfig{}, errcode.New(errcode.InvalidConfig, "load", "no embedded config for device: "+device)
	}
	c, err := Parse(raw)
	if err != nil {
		return c, err
	}
	if c.Device == "" {
		c.Device = device
	}
	return c, nil
}

// LoadFile reads a YAML or JSON file. When the file names a device with an
// embedded profile, the file is layered over that profile.
func LoadFile(path string) (types.BringupConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.BringupConfig{}, errcode.Wrap(errcode.InvalidConfig, "load", err)
	}
	var head struct {
		Device string `json:"device"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return types.BringupConfig{}, errcode.Wrap(errcode.InvalidConfig, "load", fmt.Errorf("%s: %w", path, err))
	}
	var c types.BringupConfig
	if base, ok := EmbeddedConfigLookup(head.Device); ok && head.Device != "" {
		if err := yaml.Unmarshal(base, &c); err != nil {
			return c, errcode.Wrap(errcode.InvalidConfig, "load", err)
		}
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, errcode.Wrap(errcode.InvalidConfig, "load", fmt.Errorf("%s: %w", path, err))
	}
	return Normalize(c), nil
}

// Normalize clamps numeric knobs into safe ranges. Zero means "default" and
// is kept as is.
func Normalize(c types.BringupConfig) types.BringupConfig {
	if c.Budget != 0 {
		c.Budget = mathx.Clamp(c.Budget, MinBudget, MaxBudget)
	}
	c.SettleMs = mathx.Clamp(c.SettleMs, 0, MaxSettleMs)
	if c.Stream.Start%4 != 0 {
		c.Stream.Start = (c.Stream.Start + 3) &^ 3
	}
	return c
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	Log  logr.Logger

	// Override, when set, edits the resolved configuration before it is
	// normalised and published (command-line flags, for instance).
	Override func(*types.BringupConfig)
}

func NewConfigService(log logr.Logger) *ConfigService {
	return &ConfigService{Name: serviceName, Log: log}
}

// resolve picks the file from ctx if present, else the embedded device profile.
func (s *ConfigService) resolve(ctx context.Context) (types.BringupConfig, error) {
	if path, _ := ctx.Value(CtxFileKey).(string); path != "" {
		return LoadFile(path)
	}
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return types.BringupConfig{}, errors.New("missing device ID in context")
	}
	return Load(device)
}

// publishConfig resolves the configuration and publishes it retained on
// config/bringup.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	c, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	if dev, _ := ctx.Value(CtxDeviceKey).(string); dev != "" && c.Device == "" {
		c.Device = dev
	}
	if s.Override != nil {
		s.Override(&c)
		c = Normalize(c)
	}
	conn.Publish(conn.NewMessage(bus.T("config", "bringup"), c, true))
	return nil
}

// Publish resolves and publishes the configuration once, synchronously.
func (s *ConfigService) Publish(ctx context.Context, conn *bus.Connection) error {
	return s.publishConfig(ctx, conn)
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			s.Log.Error(err, "config not published")
		}
	}()
}
