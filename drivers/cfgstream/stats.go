package cfgstream

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Stats summarises one pass over a stream.
type Stats struct {
	Words       int
	Commands    int
	Delimiters  int
	AddressRefs int
	Blank       int
	Unknown     int
	InvalidOps  int // commands whose op byte is not a known kind

	ByOp     map[OpKind]int
	ByTarget map[uint8]int

	FirstCommand   uint32
	FirstDelimiter uint32
	LastOffset     uint32

	// Fingerprint is an xxhash64 of the raw little-endian words read.
	Fingerprint uint64

	// Truncated is set when the source failed before the end of the window.
	Truncated bool
}

// Analyze walks the whole stream once (rewinding first and afterwards) and
// collects statistics. It reads only through the decoder.
func Analyze(d *Decoder) Stats {
	d.Rewind()
	defer d.Rewind()

	st := Stats{
		ByOp:           map[OpKind]int{},
		ByTarget:       map[uint8]int{},
		FirstCommand:   ^uint32(0),
		FirstDelimiter: ^uint32(0),
	}
	h := xxhash.New()
	var buf [WordSize]byte
	for {
		w, ok := d.Next()
		if !ok {
			break
		}
		st.Words++
		st.LastOffset = w.Offset
		binary.LittleEndian.PutUint32(buf[:], w.Raw)
		_, _ = h.Write(buf[:])

		switch w.Class {
		case ClassCommand:
			st.Commands++
			st.ByOp[w.Cmd.Op]++
			st.ByTarget[w.Cmd.Target]++
			if !w.Cmd.Op.Valid() {
				st.InvalidOps++
			}
			if st.FirstCommand == ^uint32(0) {
				st.FirstCommand = w.Offset
			}
		case ClassDelimiter:
			st.Delimiters++
			if st.FirstDelimiter == ^uint32(0) {
				st.FirstDelimiter = w.Offset
			}
		default:
			switch w.Hint {
			case HintAddressRef:
				st.AddressRefs++
			case HintBlank:
				st.Blank++
			default:
				st.Unknown++
			}
		}
	}
	st.Truncated = d.Err() != nil
	st.Fingerprint = h.Sum64()
	return st
}

// Phases is the number of phases implied by the delimiters seen.
func (s Stats) Phases() int {
	if s.Commands == 0 && s.Delimiters == 0 {
		return 0
	}
	return s.Delimiters + 1
}

// TargetCount is a (target, count) pair.
type TargetCount struct {
	Target uint8
	Count  int
}

// TopTargets returns targets ordered by access count, then by index.
func (s Stats) TopTargets(n int) []TargetCount {
	out := make([]TargetCount, 0, len(s.ByTarget))
	for t, c := range s.ByTarget {
		out = append(out, TargetCount{Target: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Target < out[j].Target
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Fingerprint hashes the stream without collecting the rest of the stats.
func Fingerprint(d *Decoder) uint64 {
	return Analyze(d).Fingerprint
}
