package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bringup-go/drivers/regmap"
)

func TestDumpSimulatedStream(t *testing.T) {
	var buf bytes.Buffer
	if err := run(&buf, options{device: "mt7927", sim: true, words: true, top: 4}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	table := fmt.Sprintf("direct table: %d entries", len(regmap.KnownTable()))
	for _, want := range []string{"phases", "3", "set_bit 0x81 0x00", "phase 2", "fingerprint", "direct_table", table} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDumpWordScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.txt")
	script := "# two commands\n@0x80000\n0x1600B801 0x31000100\n0x16002000\n"
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := run(&buf, options{device: "mt7927", streamFile: path, top: 4}); err != nil {
		t.Fatal(err)
	}
	// 0xB8 is denylisted under the identity mapping.
	if !strings.Contains(buf.String(), "0x00b8 (denied)") {
		t.Fatalf("output:\n%s", buf.String())
	}
}

func TestDumpNeedsSource(t *testing.T) {
	if err := run(&bytes.Buffer{}, options{device: "mt7927"}); err == nil {
		t.Fatal("expected an error without a stream source")
	}
}
