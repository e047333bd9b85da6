package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Variable marks a table entry whose total length is carried at LengthOffset.
	Variable = -1

	OpcodeLen      = 2
	LengthOffset   = 2
	VariableHeader = 4
	MaxFrameLen    = 0xFFFF
)

var (
	ErrLengthTooSmall = errors.New("frame: declared length smaller than header")
	ErrInvalidTable   = errors.New("frame: invalid opcode table")
	ErrFrameTooLarge  = errors.New("frame: frame exceeds 16-bit length")
)

// Status is the outcome of one extraction attempt.
type Status int

const (
	StatusIncomplete Status = iota
	StatusComplete
	StatusForeign
)

func (s Status) String() string {
	switch s {
	case StatusIncomplete:
		return "incomplete"
	case StatusComplete:
		return "complete"
	case StatusForeign:
		return "foreign"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Table maps a contiguous opcode range to payload lengths.
// An entry is a fixed total frame length, Variable, or 0 for "not ours".
type Table struct {
	base    uint16
	lengths []int
}

func NewTable(base uint16, lengths []int) (*Table, error) {
	if int(base)+len(lengths) > 0x10000 {
		return nil, fmt.Errorf("%w: range overflows opcode space", ErrInvalidTable)
	}
	out := make([]int, len(lengths))
	for i, n := range lengths {
		switch {
		case n == Variable, n == 0:
		case n >= OpcodeLen && n <= MaxFrameLen:
		default:
			return nil, fmt.Errorf("%w: opcode 0x%04x length %d", ErrInvalidTable, int(base)+i, n)
		}
		out[i] = n
	}
	return &Table{base: base, lengths: out}, nil
}

// Length returns the table entry for op; ok is false when op is outside the
// range or mapped to zero.
func (t *Table) Length(op uint16) (int, bool) {
	if t == nil || op < t.base || int(op-t.base) >= len(t.lengths) {
		return 0, false
	}
	n := t.lengths[op-t.base]
	if n == 0 {
		return 0, false
	}
	return n, true
}

func (t *Table) Base() uint16 {
	return t.base
}

func (t *Table) Size() int {
	return len(t.lengths)
}

// Message is one complete wire frame, opcode included.
type Message struct {
	Opcode uint16
	Frame  []byte
}

// Payload returns the frame bytes after the opcode.
func (m Message) Payload() []byte {
	if len(m.Frame) < OpcodeLen {
		return nil
	}
	return m.Frame[OpcodeLen:]
}

func (m Message) Len() int {
	return len(m.Frame)
}

// Extract attempts to produce one message from the unread tail of a stream
// buffer. It never blocks and never consumes: the returned count is what the
// caller must skip once the message has been handled.
func Extract(buf []byte, t *Table) (Message, int, Status, error) {
	if len(buf) < OpcodeLen {
		return Message{}, 0, StatusIncomplete, nil
	}
	op := binary.LittleEndian.Uint16(buf[0:2])
	n, ok := t.Length(op)
	if !ok {
		return Message{}, 0, StatusForeign, nil
	}
	if n == Variable {
		if len(buf) < VariableHeader {
			return Message{}, 0, StatusIncomplete, nil
		}
		n = int(binary.LittleEndian.Uint16(buf[LengthOffset : LengthOffset+2]))
		if n < VariableHeader {
			return Message{}, 0, StatusIncomplete, fmt.Errorf("%w: opcode 0x%04x length %d", ErrLengthTooSmall, op, n)
		}
	}
	if len(buf) < n {
		return Message{}, 0, StatusIncomplete, nil
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return Message{Opcode: op, Frame: out}, n, StatusComplete, nil
}

// PeekOpcode returns the little-endian opcode at the head of buf.
func PeekOpcode(buf []byte) (uint16, bool) {
	if len(buf) < OpcodeLen {
		return 0, false
	}
	return binary.LittleEndian.Uint16(buf[0:2]), true
}

// NewFixed allocates a zeroed frame of size n with op written.
func NewFixed(op uint16, n int) []byte {
	buf := make([]byte, n)
	binary.LittleEndian.PutUint16(buf[0:2], op)
	return buf
}

// NewVariable allocates a zeroed frame of total size n with op and the
// length field written.
func NewVariable(op uint16, n int) ([]byte, error) {
	if n < VariableHeader {
		return nil, ErrLengthTooSmall
	}
	if n > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	binary.LittleEndian.PutUint16(buf[0:2], op)
	binary.LittleEndian.PutUint16(buf[LengthOffset:LengthOffset+2], uint16(n))
	return buf, nil
}
