// Command bringup runs one bring-up session against a device: it replays the
// device's configuration stream through the safety guard and reports whether
// the device came alive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"bringup-go/bus"
	"bringup-go/errcode"
	"bringup-go/services/bridge"
	"bringup-go/services/bringup"
	"bringup-go/services/config"
	"bringup-go/services/heartbeat"
	"bringup-go/types"
)

type options struct {
	device      string
	configFile  string
	pci         string
	i2c         string
	sim         bool
	simWedge    string
	streamFile  string
	dryRun      bool
	budget      int
	noPreflight bool
	scratch     bool
	output      string
	metricsAddr string
	export      string
	watch       time.Duration
	verbosity   int
}

func main() {
	var o options
	fs := pflag.NewFlagSet("bringup", pflag.ExitOnError)
	fs.StringVarP(&o.device, "device", "d", "mt7927", "device profile ("+fmt.Sprint(config.Devices())+")")
	fs.StringVarP(&o.configFile, "config", "c", "", "YAML/JSON configuration layered over the device profile")
	fs.StringVar(&o.pci, "pci", "", "PCI address of the target, e.g. 0000:01:00.0")
	fs.StringVar(&o.i2c, "i2c", "", "reach the target through an I2C bridge on this i2c-dev node, e.g. /dev/i2c-1")
	fs.BoolVar(&o.sim, "sim", false, "run against the built-in simulated device")
	fs.StringVar(&o.simWedge, "sim-wedge", "", "make the simulated device wedge on a write to this control offset")
	fs.StringVar(&o.streamFile, "stream-file", "", "read the configuration stream from a word script instead of the device")
	fs.BoolVar(&o.dryRun, "dry-run", false, "decode and resolve only; never write")
	fs.IntVar(&o.budget, "budget", 0, "maximum commands per session (0 = profile default)")
	fs.BoolVar(&o.noPreflight, "no-preflight", false, "skip the health check before the first command")
	fs.BoolVar(&o.scratch, "scratch", false, "verify scratch registers before the session")
	fs.StringVarP(&o.output, "output", "o", "text", "report format: text, yaml or json")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&o.export, "export", "", "export bus traffic as JSON lines to file:<path> or tcp:<host:port>")
	fs.DurationVar(&o.watch, "watch", 0, "after activation, keep sampling liveness for this long")
	fs.CountVarP(&o.verbosity, "verbose", "v", "log verbosity (repeat for per-command records)")
	_ = fs.Parse(os.Args[1:])

	log, flush, err := newLogger(o.verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
	defer flush()

	rep, err := run(o, log)
	if rep != nil {
		if perr := printReport(os.Stdout, rep, o.output); perr != nil {
			log.Error(perr, "printing report")
		}
	}
	if err != nil {
		log.Error(err, "bring-up failed")
	}
	flush()
	os.Exit(exitCode(err))
}

func newLogger(verbosity int) (logr.Logger, func(), error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zc.DisableStacktrace = true
	zl, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

func run(o options, log logr.Logger) (*bringup.Report, error) {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	wedgeAt, err := parseOffset(o.simWedge)
	if err != nil {
		return nil, err
	}

	b := bus.NewBus(1024)
	cli := b.NewConnection("cli")
	repSub := cli.Subscribe(bringup.TopicReport)
	stSub := cli.Subscribe(bringup.TopicState)
	cfgSub := cli.Subscribe(bringup.TopicConfig)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	plat := openDevice(platformOpts{
		sim:        o.sim,
		i2c:        o.i2c,
		wedgeAt:    wedgeAt,
		streamFile: o.streamFile,
		scratch:    o.scratch,
		log:        log.WithName("platform"),
	})
	svc := bringup.NewService(b.NewConnection("bringup"), plat, log.WithName("bringup"),
		bringup.WithMetrics(bringup.NewMetrics(reg)),
		bringup.WithSink(bringup.LogSink{Log: log.WithName("record")}),
	)

	cfgSvc := config.NewConfigService(log.WithName("config"))
	cfgSvc.Override = func(c *types.BringupConfig) {
		if o.pci != "" {
			c.PCIAddress = o.pci
		}
		if o.dryRun {
			c.DryRun = true
		}
		if o.budget > 0 {
			c.Budget = o.budget
		}
		if o.noPreflight {
			off := false
			c.Preflight = &off
		}
	}
	cfgCtx := context.WithValue(ctx, config.CtxDeviceKey, o.device)
	if o.configFile != "" {
		cfgCtx = context.WithValue(cfgCtx, config.CtxFileKey, o.configFile)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Run(gctx)
		return nil
	})
	if o.metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, o.metricsAddr, reg) })
	}

	var rep *bringup.Report
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case m := <-repSub.Channel():
				rep = m.Payload.(*bringup.Report)
				if rep.Outcome == bringup.OutcomeActivated && o.watch > 0 {
					cfg := (<-cfgSub.Channel()).Payload.(types.BringupConfig)
					return watch(gctx, b, plat, cfg, o.watch, log.WithName("heartbeat"))
				}
				return rep.Err()
			case m := <-stSub.Channel():
				st, _ := m.Payload.(types.SessionState)
				if st.Level == "error" {
					return errcode.New(errcode.Code(st.Status), "bringup", "session not started")
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	if o.export != "" {
		if err := startExport(gctx, g, b, o.export); err != nil {
			cancel()
			_ = g.Wait()
			return nil, err
		}
	}
	if err := cfgSvc.Publish(cfgCtx, b.NewConnection("config")); err != nil {
		cancel()
		_ = g.Wait()
		return nil, errcode.Wrap(errcode.InvalidConfig, "config", err)
	}

	err = g.Wait()
	if rep == nil && errors.Is(err, context.Canceled) && sigCtx.Err() != nil {
		err = errcode.New(errcode.Exhausted, "bringup", "interrupted")
	}
	return rep, err
}

// startExport runs the bridge and waits until it has taken its subscription,
// so every record of the session is exported.
func startExport(ctx context.Context, g *errgroup.Group, b *bus.Bus, target string) error {
	bcfg, err := bridge.ParseTarget(target)
	if err != nil {
		return err
	}
	conn := b.NewConnection("export")
	stSub := conn.Subscribe(bridge.TopicState)
	defer conn.Unsubscribe(stSub)
	g.Go(func() error {
		bridge.Start(ctx, b.NewConnection("bridge"))
		return nil
	})
	conn.Publish(conn.NewMessage(bridge.TopicConfig, bcfg, false))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-stSub.Channel():
			st, _ := m.Payload.(map[string]any)
			switch st["level"] {
			case "up", "degraded":
				return nil
			case "error":
				return fmt.Errorf("export %s: %v %v", target, st["status"], st["error"])
			}
		case <-timeout:
			return fmt.Errorf("export %s: bridge did not start", target)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// watch samples the activated device until d elapses or the device faults.
func watch(ctx context.Context, b *bus.Bus, plat *devicePlatform, cfg types.BringupConfig, d time.Duration, log logr.Logger) error {
	sc, err := bringup.FromConfig(cfg)
	if err != nil {
		return err
	}
	mon, closeDev, err := plat.Monitor(cfg)
	if err != nil {
		return err
	}
	defer closeDev()

	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	sub := b.NewConnection("watch").Subscribe(heartbeat.TopicHeartbeat)
	_ = heartbeat.New(mon, sc.Probes, log, heartbeat.DefaultInterval).Start(wctx, b.NewConnection("heartbeat"))
	for {
		select {
		case m := <-sub.Channel():
			if hb, _ := m.Payload.(types.Heartbeat); hb.State == "faulted" {
				return errcode.New(errcode.Faulted, "heartbeat", "device stopped responding on "+hb.Probe)
			}
		case <-wctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func parseOffset(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	h, err := types.ParseHex(s)
	if err != nil {
		return 0, fmt.Errorf("--sim-wedge: %w", err)
	}
	return uint32(h), nil
}

func printReport(w io.Writer, rep *bringup.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		b, err := yaml.Marshal(rep)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}

	s := rep.Session
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", s.ID)
	fmt.Fprintf(tw, "outcome\t%s\n", rep.Outcome)
	if rep.Reason != "" {
		fmt.Fprintf(tw, "reason\t%s\n", rep.Reason)
	}
	if s.ActiveProbe != "" {
		fmt.Fprintf(tw, "probe\t%s\n", s.ActiveProbe)
	}
	fmt.Fprintf(tw, "strategy\t%s (#%d)\n", s.Strategy, s.StrategyIndex)
	fmt.Fprintf(tw, "phase\t%d\n", s.Phase)
	fmt.Fprintf(tw, "commands\t%d attempted, %d written, %d blocked, %d unresolved, %d filtered\n",
		s.Attempted, s.Writes, s.Blocked, s.Unresolved, s.Filtered)
	fmt.Fprintf(tw, "elapsed\t%s\n", time.Duration(s.Ended-s.Started)*time.Millisecond)
	if rep.Fingerprint != "" {
		fmt.Fprintf(tw, "stream\t%s\n", rep.Fingerprint)
	}
	if rep.DryRun {
		fmt.Fprintf(tw, "mode\tdry run\n")
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if rep.Recovery != "" {
		fmt.Fprintf(w, "\n%s\n", rep.Recovery)
	}
	return nil
}

// exitCode: 0 activated, 1 exhausted, 2 faulted, 3 anything else.
func exitCode(err error) int {
	c := errcode.Of(err)
	switch {
	case c == errcode.OK:
		return 0
	case !c.Fatal():
		return 3
	case c == errcode.Exhausted:
		return 1
	}
	return 2
}
