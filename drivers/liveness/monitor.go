package liveness

// Reader is a read-only register window.
type Reader interface {
	Read32(offset uint32) (uint32, error)
}

// Kind is the sampled activation state.
type Kind uint8

const (
	Dormant Kind = iota
	Active
	Faulted
)

func (k Kind) String() string {
	switch k {
	case Active:
		return "active"
	case Faulted:
		return "faulted"
	default:
		return "dormant"
	}
}

// State is the result of one sample. Probe and Value name the deciding probe
// for Active and Faulted.
type State struct {
	Kind  Kind
	Probe string
	Value uint32
	Err   error // read failure on a health probe
}

// Monitor samples probes. It only ever reads.
type Monitor struct {
	control Reader
	data    Reader
}

// NewMonitor binds the two windows. A nil data reader makes data probes
// unreadable (never active).
func NewMonitor(control, data Reader) *Monitor {
	return &Monitor{control: control, data: data}
}

func (m *Monitor) reader(r Region) Reader {
	if r == RegionData {
		return m.data
	}
	return m.control
}

// read reports ok=false when the probe's window is not bound.
func (m *Monitor) read(p Probe) (v uint32, ok bool, err error) {
	rd := m.reader(p.Region)
	if rd == nil {
		return 0, false, nil
	}
	v, err = rd.Read32(p.Offset)
	return v, true, err
}

// Sample evaluates probes: every health probe is checked for the fault
// sentinel first, then Active predicates in slice order; the first true wins.
func (m *Monitor) Sample(probes []Probe) State {
	if st, bad := m.Health(probes); bad {
		return st
	}
	for _, p := range probes {
		if p.Active == nil {
			continue
		}
		v, ok, err := m.read(p)
		if !ok || err != nil {
			continue
		}
		if p.Active(v) {
			return State{Kind: Active, Probe: p.Name, Value: v}
		}
	}
	return State{Kind: Dormant}
}

// Health checks only the health probes. bad is true when one reads the
// fault sentinel or cannot be read at all.
func (m *Monitor) Health(probes []Probe) (st State, bad bool) {
	for _, p := range probes {
		if !p.Health {
			continue
		}
		v, ok, err := m.read(p)
		if !ok {
			continue
		}
		if err != nil {
			return State{Kind: Faulted, Probe: p.Name, Value: FaultSentinel, Err: err}, true
		}
		if v == FaultSentinel {
			return State{Kind: Faulted, Probe: p.Name, Value: v}, true
		}
	}
	return State{Kind: Dormant}, false
}
