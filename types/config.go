package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Bring-up configuration supplied on topic "config/bringup".

type BringupConfig struct {
	Device     string          `json:"device"`
	PCIAddress string          `json:"pci_address,omitempty"` // e.g. "0000:01:00.0"
	ControlBAR int             `json:"control_bar"`           // register window
	DataBAR    int             `json:"data_bar"`              // memory window holding the stream
	Stream     StreamConfig    `json:"stream"`
	Strategies []string        `json:"strategies,omitempty"` // empty => all, default order
	Table      map[string]Hex  `json:"table,omitempty"`      // logical -> physical; empty => known table
	Window     Hex             `json:"window,omitempty"`     // control region size, 0 => unbounded
	Probes     []ProbeConfig   `json:"probes,omitempty"`     // empty => defaults
	Budget     int             `json:"budget,omitempty"`
	SettleMs   int             `json:"settle_ms,omitempty"`
	DryRun     bool            `json:"dry_run,omitempty"`
	Preflight  *bool           `json:"preflight,omitempty"` // nil => on
	Identity   *IdentityConfig `json:"identity,omitempty"`
	Focus      []Hex           `json:"focus,omitempty"` // only these logical targets
}

type StreamConfig struct {
	Start            Hex  `json:"start"`
	Length           Hex  `json:"length"` // 0 => until the source ends
	SkipUnclassified bool `json:"skip_unclassified,omitempty"`
}

type ProbeConfig struct {
	Name   string `json:"name"`
	Region string `json:"region"` // "control" | "data"
	Offset Hex    `json:"offset"`
	Health bool   `json:"health,omitempty"`
	Rule   string `json:"rule,omitempty"` // see liveness.ParseRule
}

type IdentityConfig struct {
	Offset Hex `json:"offset"`
	Expect Hex `json:"expect"`
}

// Hex is a 32-bit value that decodes from a JSON number or a string such as
// "0x0020" and encodes as a hex string.
type Hex uint32

func (h Hex) String() string { return fmt.Sprintf("0x%x", uint32(h)) }

func (h Hex) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }

func (h *Hex) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// ParseHex accepts decimal, 0x-prefixed hex, octal and binary forms.
func ParseHex(s string) (Hex, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad u32 %q", s)
	}
	return Hex(v), nil
}
