package cfgstream

import (
	"errors"
	"fmt"
	"io"

	"bringup-go/errcode"
)

// Source is a byte-addressable view of the configuration region.
type Source interface {
	ReadU32(offset uint32) (uint32, error)
}

// ErrOutOfRange is returned by sources for offsets past their end. The decoder
// treats it like io.EOF: a clean end of stream.
var ErrOutOfRange = errcode.OutOfRange

// Decoder walks a Source in word steps. It is lazy, finite and restartable.
type Decoder struct {
	src   Source
	start uint32
	end   uint32 // exclusive; 0 = read until the source stops
	off   uint32

	lastGood uint32
	haveGood bool
	done     bool
	err      error
}

// NewDecoder positions a decoder at start (aligned up to a word boundary).
// length bounds the walk in bytes; 0 walks until the source reports an error.
func NewDecoder(src Source, start, length uint32) *Decoder {
	start = (start + WordSize - 1) &^ (WordSize - 1)
	d := &Decoder{src: src, start: start}
	if length != 0 {
		d.end = start + length
		if d.end < start { // wrapped
			d.end = 0xFFFFFFFC
		}
	}
	d.Rewind()
	return d
}

// Rewind restarts the sequence from the start offset and clears any error.
func (d *Decoder) Rewind() {
	d.off = d.start
	d.done = false
	d.err = nil
	d.haveGood = false
	d.lastGood = 0
}

// Next returns the next classified word. ok is false once the sequence ended;
// check Err to tell a clean end from a truncation.
func (d *Decoder) Next() (w Word, ok bool) {
	if d.done {
		return Word{}, false
	}
	if d.end != 0 && d.off+WordSize > d.end {
		d.done = true
		return Word{}, false
	}
	raw, err := d.src.ReadU32(d.off)
	if err != nil {
		d.done = true
		if !isEndOfStream(err) {
			d.err = &errcode.E{
				C:   errcode.Truncation,
				Op:  "decode",
				Msg: fmt.Sprintf("read failed at 0x%06x", d.off),
				Err: err,
			}
		}
		return Word{}, false
	}
	w = Classify(d.off, raw)
	d.lastGood = d.off
	d.haveGood = true
	d.off += WordSize
	if d.off == 0 { // address space wrapped
		d.done = true
	}
	return w, true
}

// Offset is the offset the next call to Next will read.
func (d *Decoder) Offset() uint32 { return d.off }

// Start is the aligned start offset.
func (d *Decoder) Start() uint32 { return d.start }

// Err returns a truncation error if the source failed mid-stream, else nil.
func (d *Decoder) Err() error { return d.err }

// LastOffset reports the offset of the last word read successfully.
func (d *Decoder) LastOffset() (uint32, bool) { return d.lastGood, d.haveGood }

// Done reports whether the sequence has ended.
func (d *Decoder) Done() bool { return d.done }

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, ErrOutOfRange)
}

// All drains a fresh pass over the stream. The decoder is rewound first.
func (d *Decoder) All() []Word {
	d.Rewind()
	var out []Word
	for {
		w, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, w)
	}
}
