package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"tinygo.org/x/drivers"

	"bringup-go/drivers/cfgstream"
	"bringup-go/drivers/guard"
	"bringup-go/drivers/liveness"
	"bringup-go/platform/i2cwin"
	"bringup-go/platform/memwin"
	"bringup-go/platform/pcisysfs"
	"bringup-go/services/bringup"
	"bringup-go/types"
)

type platformOpts struct {
	sim        bool
	i2c        string // i2c-dev node of a bench bridge
	wedgeAt    uint32
	streamFile string
	scratch    bool
	log        logr.Logger
}

// devicePlatform opens the selected backend. The simulated device is built
// once so a later watch sees the state the session left behind.
type devicePlatform struct {
	o   platformOpts
	sim *memwin.Simulated
}

func openDevice(o platformOpts) *devicePlatform { return &devicePlatform{o: o} }

func (p *devicePlatform) open(cfg types.BringupConfig) (*bringup.Device, error) {
	if p.o.sim {
		if p.sim == nil {
			var opts []memwin.SimOption
			if p.o.wedgeAt != 0 {
				opts = append(opts, memwin.WedgeOn(p.o.wedgeAt))
			}
			p.sim = memwin.NewSimulated(opts...)
		}
		return &bringup.Device{Stream: p.sim.Data, Control: p.sim.Control, Data: p.sim.Data}, nil
	}
	if p.o.i2c != "" {
		return i2cDevice(p.o.i2c, p.o.log)
	}
	return pciDevice(cfg, p.o.log)
}

// Open implements bringup.Platform.
func (p *devicePlatform) Open(cfg types.BringupConfig) (*bringup.Device, error) {
	o := p.o
	dev, err := p.open(cfg)
	if err != nil {
		return nil, err
	}
	if o.streamFile != "" {
		if dev.Stream, err = streamFromFile(o.streamFile, uint32(cfg.Stream.Start)); err != nil {
			closeQuietly(dev)
			return nil, err
		}
	}
	if o.scratch {
		if err := scratch(dev, cfg, o.log); err != nil {
			closeQuietly(dev)
			return nil, err
		}
	}
	return dev, nil
}

// Monitor reopens the device for read-only sampling after a session.
func (p *devicePlatform) Monitor(cfg types.BringupConfig) (*liveness.Monitor, func() error, error) {
	dev, err := p.open(cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := dev.Close
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return liveness.NewMonitor(dev.Control, dev.Data), closeFn, nil
}

func pciDevice(cfg types.BringupConfig, log logr.Logger) (*bringup.Device, error) {
	if cfg.PCIAddress == "" {
		return nil, fmt.Errorf("no PCI address configured for %q (use --pci)", cfg.Device)
	}
	if v, d, err := pcisysfs.IDs(cfg.PCIAddress); err == nil {
		log.Info("pci function", "bdf", cfg.PCIAddress, "id", fmt.Sprintf("%04x:%04x", v, d))
	}
	ctl, err := pcisysfs.Open(cfg.PCIAddress, cfg.ControlBAR)
	if err != nil {
		return nil, err
	}
	data, err := pcisysfs.OpenReadOnly(cfg.PCIAddress, cfg.DataBAR)
	if err != nil {
		_ = ctl.Close()
		return nil, err
	}
	log.Info("mapped", "control", ctl.String(), "data", data.String())
	return &bringup.Device{
		Stream:  data,
		Control: ctl,
		Data:    data,
		Close: func() error {
			derr := data.Close()
			if err := ctl.Close(); err != nil {
				return err
			}
			return derr
		},
	}, nil
}

type i2cBus interface {
	drivers.I2C
	io.Closer
}

var openI2C = func(path string) (i2cBus, error) { return i2cwin.OpenDev(path) }

// Window sizes behind the bench bridge: the control BAR and the part of the
// data BAR that holds the probes and the stream.
const (
	i2cControlSize = 0x8000
	i2cDataSize    = 0x100000
)

func i2cDevice(path string, log logr.Logger) (*bringup.Device, error) {
	bus, err := openI2C(path)
	if err != nil {
		return nil, err
	}
	ctl := i2cwin.New(bus, i2cwin.DefaultAddress, i2cControlSize)
	data := i2cwin.New(bus, i2cwin.DataAddress, i2cDataSize)
	log.Info("i2c bridge", "dev", path, "control", ctl.String(), "data", data.String())
	return &bringup.Device{Stream: data, Control: ctl, Data: data, Close: bus.Close}, nil
}

// streamFromFile loads a word script. Its base defaults to the configured
// stream start so the configuration's window still applies.
func streamFromFile(path string, start uint32) (cfgstream.Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	w, err := cfgstream.ParseText(string(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if w.Base == 0 {
		w.Base = start
	}
	return w, nil
}

// scratch proves the control path round-trips before any stream command runs.
// The chip is identified first so nothing is written to the wrong device.
func scratch(dev *bringup.Device, cfg types.BringupConfig, log logr.Logger) error {
	acc := guard.New(dev.Control)
	if id := cfg.Identity; id != nil {
		if _, err := bringup.Identify(acc, uint32(id.Offset), uint32(id.Expect)); err != nil {
			return err
		}
	}
	res, err := bringup.ScratchCheck(acc, bringup.ScratchRegisters, bringup.ScratchPatterns)
	if err != nil {
		return err
	}
	log.Info("scratch registers ok", "checks", len(res))
	return nil
}

func closeQuietly(dev *bringup.Device) {
	if dev.Close != nil {
		_ = dev.Close()
	}
}
