package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

// The configuration stream sits in the data window at 0x080000; the control
// window is a 32 KiB register BAR. fw_status is left out of the probe set:
// it only ever changed together with the data probes.
const cfgMT7927 = `{
  "device": "mt7927",
  "control_bar": 2,
  "data_bar": 0,
  "stream": {
    "start": "0x080000",
    "length": "0x1000"
  },
  "strategies": ["direct_table", "identity", "scaled"],
  "window": "0x8000",
  "probes": [
    {"name": "chip_status", "region": "control", "offset": "0x0000", "health": true},
    {"name": "main_memory", "region": "data", "offset": "0x000000", "rule": "not_blank"},
    {"name": "dma_memory", "region": "data", "offset": "0x020000", "rule": "not_blank"}
  ],
  "budget": 256,
  "settle_ms": 10,
  "identity": {"offset": "0x0098", "expect": "0x792714c3"}
}`

var embeddedConfigs = map[string][]byte{
	"mt7927": []byte(cfgMT7927),
}
