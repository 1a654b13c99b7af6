package cfgstream

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"bringup-go/errcode"
)

// Words is an in-memory stream of raw words based at Base.
type Words struct {
	Base uint32
	Data []uint32
}

func (w Words) ReadU32(offset uint32) (uint32, error) {
	if offset < w.Base || offset%WordSize != 0 {
		return 0, ErrOutOfRange
	}
	i := (offset - w.Base) / WordSize
	if uint64(i) >= uint64(len(w.Data)) {
		return 0, ErrOutOfRange
	}
	return w.Data[i], nil
}

// Bytes is a little-endian byte dump of a region based at Base, as it reads
// back from a device BAR.
type Bytes struct {
	Base uint32
	Data []byte
}

func (b Bytes) ReadU32(offset uint32) (uint32, error) {
	if offset < b.Base {
		return 0, ErrOutOfRange
	}
	i := uint64(offset - b.Base)
	if i+WordSize > uint64(len(b.Data)) {
		return 0, ErrOutOfRange
	}
	return binary.LittleEndian.Uint32(b.Data[i : i+WordSize]), nil
}

// ParseText reads a word script: hex words, with or without a 0x prefix,
// separated by whitespace, with '#' comments and shell-style quoting. A single
// "@80000" token before the first word sets the base offset; a base anywhere
// else is an error because the stream must stay contiguous.
func ParseText(text string) (Words, error) {
	toks, err := shlex.Split(text)
	if err != nil {
		return Words{}, &errcode.E{C: errcode.InvalidConfig, Op: "parse", Err: err}
	}
	var out Words
	sawBase := false
	for i, tok := range toks {
		tok = strings.TrimSuffix(strings.TrimSpace(tok), ",")
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "@") {
			if sawBase || len(out.Data) > 0 {
				return Words{}, errcode.New(errcode.InvalidConfig, "parse", "base offset must precede all words")
			}
			v, err := parseHex(tok[1:])
			if err != nil {
				return Words{}, &errcode.E{C: errcode.InvalidConfig, Op: "parse", Msg: fmt.Sprintf("token %d", i), Err: err}
			}
			out.Base = uint32(v)
			sawBase = true
			continue
		}
		v, err := parseHex(tok)
		if err != nil {
			return Words{}, &errcode.E{C: errcode.InvalidConfig, Op: "parse", Msg: fmt.Sprintf("token %d %q", i, tok), Err: err}
		}
		out.Data = append(out.Data, uint32(v))
	}
	return out, nil
}

func parseHex(tok string) (uint64, error) {
	if len(tok) > 2 && tok[0] == '0' && (tok[1] == 'x' || tok[1] == 'X') {
		tok = tok[2:]
	}
	return strconv.ParseUint(tok, 16, 32)
}
