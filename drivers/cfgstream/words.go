// Package cfgstream decodes the vendor configuration stream held in device
// memory into commands and phase delimiters.
//
// Word layout (one 32-bit little-endian word per 4-byte slot):
//
//	[31:24] prefix   0x16 marks a command
//	[23:16] op       operation kind
//	[15:8]  target   logical register index
//	[7:0]   operand  immediate value / bit number
//
// The word 0x31000100 separates initialisation phases. Anything else is
// unclassified; the decoder never guesses at its meaning.
package cfgstream

import "fmt"

const (
	// CommandPrefix is the high byte shared by every command word.
	CommandPrefix = 0x16

	// PhaseDelimiter is the sentinel word between phases.
	PhaseDelimiter uint32 = 0x31000100

	// WordSize is the stride of the stream in bytes.
	WordSize = 4
)

// OpKind is the operation byte of a command word.
type OpKind uint8

const (
	OpAssign   OpKind = 0x00
	OpOr       OpKind = 0x01
	OpAnd      OpKind = 0x10
	OpXor      OpKind = 0x11
	OpSetBit   OpKind = 0x20
	OpClearBit OpKind = 0x21
)

// Ops lists the known operation kinds in code order.
var Ops = [...]OpKind{OpAssign, OpOr, OpAnd, OpXor, OpSetBit, OpClearBit}

// Valid reports whether k is one of the known operation kinds.
func (k OpKind) Valid() bool {
	switch k {
	case OpAssign, OpOr, OpAnd, OpXor, OpSetBit, OpClearBit:
		return true
	}
	return false
}

func (k OpKind) String() string {
	switch k {
	case OpAssign:
		return "assign"
	case OpOr:
		return "or"
	case OpAnd:
		return "and"
	case OpXor:
		return "xor"
	case OpSetBit:
		return "set_bit"
	case OpClearBit:
		return "clear_bit"
	default:
		return fmt.Sprintf("op_%02x", uint8(k))
	}
}

// Class is the classification of a single stream word.
type Class uint8

const (
	ClassUnclassified Class = iota
	ClassCommand
	ClassDelimiter
)

func (c Class) String() string {
	switch c {
	case ClassCommand:
		return "command"
	case ClassDelimiter:
		return "delimiter"
	default:
		return "unclassified"
	}
}

// Hint is advisory detail for unclassified words. It never changes the class.
type Hint uint8

const (
	HintNone Hint = iota
	HintBlank
	HintAddressRef
)

func (h Hint) String() string {
	switch h {
	case HintBlank:
		return "blank"
	case HintAddressRef:
		return "address_ref"
	default:
		return "none"
	}
}

// Command is a decoded command word.
type Command struct {
	Op           OpKind
	Target       uint8
	Operand      uint8
	SourceOffset uint32
}

// Word returns the raw encoding of c.
func (c Command) Word() uint32 { return Encode(c.Op, c.Target, c.Operand) }

func (c Command) String() string {
	return fmt.Sprintf("%s reg=0x%02x val=0x%02x @0x%06x", c.Op, c.Target, c.Operand, c.SourceOffset)
}

// Word is one classified stream slot.
type Word struct {
	Offset uint32
	Raw    uint32
	Class  Class
	Hint   Hint
	Cmd    Command // valid when Class == ClassCommand
}

// Encode packs a command into its raw word.
func Encode(op OpKind, target, operand uint8) uint32 {
	return uint32(CommandPrefix)<<24 | uint32(op)<<16 | uint32(target)<<8 | uint32(operand)
}

// Classify maps any raw word to exactly one class.
func Classify(offset, raw uint32) Word {
	w := Word{Offset: offset, Raw: raw}
	switch {
	case raw>>24 == CommandPrefix:
		w.Class = ClassCommand
		w.Cmd = Command{
			Op:           OpKind(raw >> 16),
			Target:       uint8(raw >> 8),
			Operand:      uint8(raw),
			SourceOffset: offset,
		}
	case raw == PhaseDelimiter:
		w.Class = ClassDelimiter
	default:
		w.Class = ClassUnclassified
		w.Hint = hintFor(raw)
	}
	return w
}

func hintFor(raw uint32) Hint {
	if raw == 0 || raw == 0xFFFFFFFF {
		return HintBlank
	}
	switch raw >> 24 {
	case 0x80, 0x82, 0x89:
		return HintAddressRef
	}
	return HintNone
}
