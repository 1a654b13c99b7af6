//go:build linux

package pcisysfs

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bringup-go/errcode"
)

func fakeFunction(t *testing.T, size int) string {
	t.Helper()
	root := t.TempDir()
	old := SysfsRoot
	SysfsRoot = root
	t.Cleanup(func() { SysfsRoot = old })

	dir := filepath.Join(root, "0000:01:00.0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0x98:], 0x792714c3)
	if err := os.WriteFile(filepath.Join(dir, "resource2"), buf, 0o644); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "vendor"), []byte("0x14c3\n"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "device"), []byte("0x7927\n"), 0o644)
	return "0000:01:00.0"
}

func TestMapReadWrite(t *testing.T) {
	bdf := fakeFunction(t, 0x1000)
	b, err := Open(bdf, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if v, err := b.Read32(0x98); err != nil || v != 0x792714c3 {
		t.Fatalf("Read32 = 0x%x, %v", v, err)
	}
	if err := b.Write32(0x204, 1); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.ReadU32(0x204); v != 1 {
		t.Fatalf("readback = 0x%x", v)
	}
	if !strings.Contains(b.String(), "4.0 KiB") {
		t.Fatalf("String() = %q", b.String())
	}
	if _, err := b.Read32(0x1000); errcode.Of(err) != errcode.OutOfRange {
		t.Fatalf("err = %v", err)
	}
	if err := b.Write32(0x6, 0); errcode.Of(err) != errcode.Unaligned {
		t.Fatalf("err = %v", err)
	}
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	bdf := fakeFunction(t, 0x100)
	b, err := OpenReadOnly(bdf, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write32(0x0, 1); errcode.Of(err) != errcode.Unsupported {
		t.Fatalf("err = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal("second close:", err)
	}
	if _, err := b.Read32(0); errcode.Of(err) != errcode.IOError {
		t.Fatalf("read after close: %v", err)
	}
}

func TestIDs(t *testing.T) {
	bdf := fakeFunction(t, 0x100)
	v, d, err := IDs(bdf)
	if err != nil || v != 0x14c3 || d != 0x7927 {
		t.Fatalf("IDs = %04x:%04x, %v", v, d, err)
	}
	if _, err := Open("0000:02:00.0", 0); errcode.Of(err) != errcode.IOError {
		t.Fatalf("missing function: %v", err)
	}
}
