// Command cfgdump decodes a device configuration stream without touching the
// control plane: it lists the words, summarises them and shows where each
// strategy would send the most used targets.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"bringup-go/drivers/cfgstream"
	"bringup-go/drivers/guard"
	"bringup-go/drivers/regmap"
	"bringup-go/platform/memwin"
	"bringup-go/platform/pcisysfs"
	"bringup-go/services/bringup"
	"bringup-go/services/config"
	"bringup-go/types"
)

type options struct {
	device     string
	configFile string
	pci        string
	sim        bool
	streamFile string
	dumpFile   string
	words      bool
	top        int
}

func main() {
	var o options
	fs := pflag.NewFlagSet("cfgdump", pflag.ExitOnError)
	fs.StringVarP(&o.device, "device", "d", "mt7927", "device profile supplying the stream window")
	fs.StringVarP(&o.configFile, "config", "c", "", "YAML/JSON configuration layered over the device profile")
	fs.StringVar(&o.pci, "pci", "", "read the stream from the data BAR of this PCI function (read-only)")
	fs.BoolVar(&o.sim, "sim", false, "read the stream from the simulated device")
	fs.StringVar(&o.streamFile, "stream-file", "", "read a word script")
	fs.StringVar(&o.dumpFile, "dump-file", "", "read a little-endian binary dump of the data region")
	fs.BoolVarP(&o.words, "words", "w", false, "list every word")
	fs.IntVar(&o.top, "top", 8, "number of targets in the resolution table")
	_ = fs.Parse(os.Args[1:])

	if err := run(os.Stdout, o); err != nil {
		fmt.Fprintln(os.Stderr, "cfgdump:", err)
		os.Exit(1)
	}
}

func loadConfig(o options) (types.BringupConfig, error) {
	if o.configFile != "" {
		return config.LoadFile(o.configFile)
	}
	return config.Load(o.device)
}

func openSource(o options, cfg types.BringupConfig) (cfgstream.Source, func() error, error) {
	noop := func() error { return nil }
	switch {
	case o.streamFile != "":
		b, err := os.ReadFile(o.streamFile)
		if err != nil {
			return nil, nil, err
		}
		w, err := cfgstream.ParseText(string(b))
		if err != nil {
			return nil, nil, err
		}
		if w.Base == 0 {
			w.Base = uint32(cfg.Stream.Start)
		}
		return w, noop, nil
	case o.dumpFile != "":
		b, err := os.ReadFile(o.dumpFile)
		if err != nil {
			return nil, nil, err
		}
		return cfgstream.Bytes{Data: b}, noop, nil
	case o.sim:
		return memwin.NewSimulated().Data, noop, nil
	}
	bdf := o.pci
	if bdf == "" {
		bdf = cfg.PCIAddress
	}
	if bdf == "" {
		return nil, nil, fmt.Errorf("no stream source: pass --pci, --sim, --stream-file or --dump-file")
	}
	bar, err := pcisysfs.OpenReadOnly(bdf, cfg.DataBAR)
	if err != nil {
		return nil, nil, err
	}
	return bar, bar.Close, nil
}

func run(w io.Writer, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	sc, err := bringup.FromConfig(cfg)
	if err != nil {
		return err
	}
	src, closeSrc, err := openSource(o, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	dec := cfgstream.NewDecoder(src, sc.StreamStart, sc.StreamLength)
	if o.words {
		if err := listWords(w, dec); err != nil {
			return err
		}
	}
	st := cfgstream.Analyze(dec)
	return summarise(w, st, sc, o.top)
}

func listWords(w io.Writer, dec *cfgstream.Decoder) error {
	dec.Rewind()
	defer dec.Rewind()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tRAW\tCLASS\tDETAIL")
	phase := 0
	for {
		wd, ok := dec.Next()
		if !ok {
			break
		}
		detail := wd.Hint.String()
		switch wd.Class {
		case cfgstream.ClassCommand:
			detail = fmt.Sprintf("%s 0x%02x 0x%02x", wd.Cmd.Op, wd.Cmd.Target, wd.Cmd.Operand)
		case cfgstream.ClassDelimiter:
			phase++
			detail = fmt.Sprintf("phase %d", phase)
		}
		fmt.Fprintf(tw, "0x%06x\t%08x\t%s\t%s\n", wd.Offset, wd.Raw, wd.Class, detail)
	}
	fmt.Fprintln(tw)
	return tw.Flush()
}

func summarise(w io.Writer, st cfgstream.Stats, sc bringup.Config, top int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "window\t0x%06x, %s\n", sc.StreamStart, humanize.IBytes(uint64(st.Words)*cfgstream.WordSize))
	fmt.Fprintf(tw, "words\t%s\n", humanize.Comma(int64(st.Words)))
	fmt.Fprintf(tw, "commands\t%s (%d invalid op)\n", humanize.Comma(int64(st.Commands)), st.InvalidOps)
	fmt.Fprintf(tw, "phases\t%d\n", st.Phases())
	fmt.Fprintf(tw, "address refs\t%d\n", st.AddressRefs)
	fmt.Fprintf(tw, "blank\t%d\n", st.Blank)
	fmt.Fprintf(tw, "unknown\t%d\n", st.Unknown)
	if st.Commands > 0 {
		fmt.Fprintf(tw, "first command\t0x%06x\n", st.FirstCommand)
	}
	if st.Delimiters > 0 {
		fmt.Fprintf(tw, "first delimiter\t0x%06x\n", st.FirstDelimiter)
	}
	fmt.Fprintf(tw, "fingerprint\t%016x\n", st.Fingerprint)
	if st.Truncated {
		fmt.Fprintf(tw, "truncated\tafter 0x%06x\n", st.LastOffset)
	}
	for _, op := range cfgstream.Ops {
		if n := st.ByOp[op]; n > 0 {
			fmt.Fprintf(tw, "op %s\t%d\n", op, n)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	strategies := sc.Strategies
	if len(strategies) == 0 {
		strategies = regmap.DefaultStrategies
	}
	fmt.Fprintf(w, "\ndirect table: %d entries\n", sc.Resolver.TableSize())
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "TARGET\tCOUNT")
	for _, s := range strategies {
		fmt.Fprintf(tw, "\t%s", s)
	}
	fmt.Fprintln(tw)
	for _, tc := range st.TopTargets(top) {
		fmt.Fprintf(tw, "0x%02x\t%d", tc.Target, tc.Count)
		for _, s := range strategies {
			off, ok := sc.Resolver.Resolve(s, tc.Target)
			switch {
			case !ok:
				fmt.Fprint(tw, "\t-")
			case guard.Denylisted(off):
				fmt.Fprintf(tw, "\t0x%04x (denied)", off)
			default:
				fmt.Fprintf(tw, "\t0x%04x", off)
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
