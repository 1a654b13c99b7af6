package memwin

// Simulated is an in-memory stand-in for the reference device: a 32 KiB
// control window and a 1 MiB data window holding a configuration stream.
//
// Behaviour:
//   - chip id at control 0x98, firmware status idle at 0x200
//   - setting bit 0 of control 0x204 (DMA enable) makes DMA memory non-blank
//   - with WedgeOn set, writing that control offset wedges both windows
type Simulated struct {
	Control *Window
	Data    *Window
}

const (
	SimControlSize uint32 = 0x8000
	SimDataSize    uint32 = 0x100000
	SimStreamBase  uint32 = 0x080000

	simChipID      uint32 = 0x792714c3
	simFWIdle      uint32 = 0xFFFF10F1
	simDMAEnable   uint32 = 0x0204
	simDMAMemory   uint32 = 0x020000
	simDMAPattern  uint32 = 0x5A5A0001
	simChipIDOff   uint32 = 0x0098
	simFWStatusOff uint32 = 0x0200
)

// SimStream is the stream preloaded at SimStreamBase: three phases ending in
// a blank word.
var SimStream = []uint32{
	0x16002000, // assign 0x20 = 0x00
	0x16002400, // assign 0x24 = 0x00
	0x31000100,
	0x16017001, // or 0x70 |= 0x01
	0x16107400, // and 0x74 &= 0x00
	0x31000100,
	0x16203000, // set bit 0 of 0x30
	0x16208100, // set bit 0 of 0x81 (DMA enable)
	0x00000000,
}

// SimOption tweaks the simulated device.
type SimOption func(*simOpts)

type simOpts struct {
	stream  []uint32
	wedgeOn uint32
	wedge   bool
}

// WithStream replaces the preloaded stream.
func WithStream(words []uint32) SimOption { return func(o *simOpts) { o.stream = words } }

// WedgeOn makes a write to off wedge the device.
func WedgeOn(off uint32) SimOption {
	return func(o *simOpts) { o.wedgeOn, o.wedge = off, true }
}

func NewSimulated(opts ...SimOption) *Simulated {
	o := simOpts{stream: SimStream}
	for _, f := range opts {
		f(&o)
	}
	s := &Simulated{
		Control: New("control", SimControlSize),
		Data:    New("data", SimDataSize),
	}
	s.Control.Set(simChipIDOff, simChipID)
	s.Control.Set(simFWStatusOff, simFWIdle)
	s.Data.LoadWords(SimStreamBase, o.stream)

	s.Control.OnWrite(func(w *Window, off, v uint32) {
		if o.wedge && off == o.wedgeOn {
			s.Control.Wedge()
			s.Data.Wedge()
			return
		}
		if off == simDMAEnable && v&1 != 0 {
			s.Data.Set(simDMAMemory, simDMAPattern)
			s.Control.Set(simFWStatusOff, 0x00000001)
		}
	})
	return s
}
