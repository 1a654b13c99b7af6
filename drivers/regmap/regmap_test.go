package regmap

import "testing"

func TestResolveStrategies(t *testing.T) {
	r := New(map[uint8]uint32{0x20: 0x0020, 0x24: 0x0024})

	cases := []struct {
		s       Strategy
		logical uint8
		want    uint32
		ok      bool
	}{
		{DirectTable, 0x20, 0x0020, true},
		{DirectTable, 0x24, 0x0024, true},
		{DirectTable, 0x81, 0, false},
		{Identity, 0x13, 0x13, true},
		{Identity, 0xFF, 0xFF, true},
		{ScaledByWordSize, 0x13, 0x4C, true},
		{ScaledByWordSize, 0xFF, 0x3FC, true},
		{Strategy(9), 0x20, 0, false},
	}
	for _, c := range cases {
		got, ok := r.Resolve(c.s, c.logical)
		if got != c.want || ok != c.ok {
			t.Errorf("Resolve(%s, 0x%02x) = 0x%x,%v want 0x%x,%v", c.s, c.logical, got, ok, c.want, c.ok)
		}
	}
}

func TestResolverCopiesTable(t *testing.T) {
	table := map[uint8]uint32{0x20: 0x20}
	r := New(table)
	table[0x20] = 0xA4
	table[0x30] = 0x30
	if off, _ := r.Resolve(DirectTable, 0x20); off != 0x20 {
		t.Fatalf("resolver saw caller mutation: 0x%x", off)
	}
	if _, ok := r.Resolve(DirectTable, 0x30); ok {
		t.Fatal("resolver saw added entry")
	}
}

func TestKnownTable(t *testing.T) {
	r := New(nil)
	if r.TableSize() != len(knownTable) {
		t.Fatalf("table size %d", r.TableSize())
	}
	if off, ok := r.Resolve(DirectTable, 0x81); !ok || off != 0x0204 {
		t.Fatalf("0x81 -> 0x%x,%v", off, ok)
	}
	kt := KnownTable()
	kt[0x81] = 0
	if off, _ := r.Resolve(DirectTable, 0x81); off != 0x0204 {
		t.Fatal("KnownTable must return a copy")
	}
}

func TestWindow(t *testing.T) {
	r := New(nil, WithWindow(0x100))
	if _, ok := r.Resolve(ScaledByWordSize, 0x40); ok {
		t.Fatal("0x100 is outside a 0x100 window")
	}
	if off, ok := r.Resolve(ScaledByWordSize, 0x3F); !ok || off != 0xFC {
		t.Fatalf("0x3f -> 0x%x,%v", off, ok)
	}
	if _, ok := r.Resolve(DirectTable, 0x60); ok {
		t.Fatal("table entry 0x180 is outside the window")
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range DefaultStrategies {
		got, err := ParseStrategy(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseStrategy(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStrategy("guess"); err == nil {
		t.Fatal("expected error")
	}
}
