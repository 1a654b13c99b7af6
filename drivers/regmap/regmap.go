// Package regmap translates logical register indices found in the
// configuration stream into control-plane byte offsets.
//
// The true mapping is unknown. Each Strategy is one hypothesis; the
// supervisor picks which one to try, the resolver itself holds no state.
package regmap

import (
	"fmt"
	"strings"
)

// Strategy selects a mapping hypothesis.
type Strategy uint8

const (
	// DirectTable uses a curated table of observed logical->physical pairs and
	// refuses everything else.
	DirectTable Strategy = iota
	// Identity treats the logical index as a byte offset.
	Identity
	// ScaledByWordSize treats the logical index as a word index (x4).
	ScaledByWordSize
)

// DefaultStrategies is the rotation tried when nothing else is configured.
var DefaultStrategies = []Strategy{DirectTable, Identity, ScaledByWordSize}

func (s Strategy) String() string {
	switch s {
	case DirectTable:
		return "direct_table"
	case Identity:
		return "identity"
	case ScaledByWordSize:
		return "scaled"
	default:
		return fmt.Sprintf("strategy_%d", uint8(s))
	}
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseStrategy accepts the String form plus a few aliases.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct_table", "direct", "table":
		return DirectTable, nil
	case "identity", "1:1":
		return Identity, nil
	case "scaled", "scaled_by_word_size", "x4":
		return ScaledByWordSize, nil
	}
	return 0, fmt.Errorf("unknown mapping strategy %q", s)
}

// Known control-plane offsets (BAR2 on the reference device).
const (
	regScratch1  = 0x0020
	regScratch2  = 0x0024
	regMode1     = 0x0070
	regMode2     = 0x0074
	regCore      = 0x0000
	regCoreExt   = 0x0004
	regClock     = 0x004C
	regInterrupt = 0x00C0
	regMAC       = 0x0180
	regDMAEnable = 0x0204
)

var knownTable = map[uint8]uint32{
	0x20: regScratch1,
	0x24: regScratch2,
	0x70: regMode1,
	0x74: regMode2,
	0x00: regCore,
	0x01: regCoreExt,
	0x13: regClock,
	0x30: regInterrupt,
	0x60: regMAC,
	0x81: regDMAEnable,
}

// KnownTable returns a copy of the curated table.
func KnownTable() map[uint8]uint32 {
	out := make(map[uint8]uint32, len(knownTable))
	for k, v := range knownTable {
		out[k] = v
	}
	return out
}

// Resolver maps logical registers under a chosen strategy. Immutable once built.
type Resolver struct {
	table  map[uint8]uint32
	window uint32 // 0 = unbounded
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWindow rejects offsets at or beyond size (the mapped control region).
func WithWindow(size uint32) Option {
	return func(r *Resolver) { r.window = size }
}

// New builds a resolver over a private copy of table. A nil table uses the
// curated one.
func New(table map[uint8]uint32, opts ...Option) *Resolver {
	if table == nil {
		table = knownTable
	}
	r := &Resolver{table: make(map[uint8]uint32, len(table))}
	for k, v := range table {
		r.table[k] = v
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the physical offset for logical under s, or ok=false when
// the strategy has no answer.
func (r *Resolver) Resolve(s Strategy, logical uint8) (offset uint32, ok bool) {
	switch s {
	case DirectTable:
		offset, ok = r.table[logical]
	case Identity:
		offset, ok = uint32(logical), true
	case ScaledByWordSize:
		offset, ok = uint32(logical)*4, true
	default:
		return 0, false
	}
	if ok && r.window != 0 && offset >= r.window {
		return 0, false
	}
	return offset, ok
}

// TableSize is the number of entries in the direct table.
func (r *Resolver) TableSize() int { return len(r.table) }
