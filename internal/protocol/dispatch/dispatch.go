// Package dispatch routes framed messages to handlers.
//
// Ownership boundary:
// - opcode -> handler routing
// - secondary collaborator hand-off for foreign opcodes
// - the extract/dispatch/consume loop over one stream buffer
package dispatch

import (
	"errors"
	"fmt"

	"github.com/danmuck/charlink/internal/protocol/frame"
)

var (
	ErrNoHandler   = errors.New("dispatch: no handler for opcode")
	ErrUnroutable  = errors.New("dispatch: opcode unresolved by secondary dispatcher")
	ErrNilHandler  = errors.New("dispatch: nil handler")
	ErrNilTable    = errors.New("dispatch: nil opcode table")
	ErrBadConsumed = errors.New("dispatch: secondary consumed an invalid byte count")
)

// Handler processes one complete message. A returned error is reported to
// the Pump caller unchanged.
type Handler func(msg frame.Message) error

// Result is the outcome of a secondary parse attempt.
type Result int

const (
	Unhandled Result = iota
	Handled
	Incomplete
)

// Secondary receives the unread tail of the buffer when the head opcode is
// not in the primary table.
type Secondary interface {
	Parse(buf []byte) (consumed int, res Result)
}

// SecondaryFunc adapts a function to Secondary.
type SecondaryFunc func(buf []byte) (int, Result)

func (f SecondaryFunc) Parse(buf []byte) (int, Result) {
	return f(buf)
}

type Dispatcher struct {
	table     *frame.Table
	handlers  map[uint16]Handler
	secondary Secondary
}

func New(table *frame.Table) (*Dispatcher, error) {
	if table == nil {
		return nil, ErrNilTable
	}
	return &Dispatcher{
		table:    table,
		handlers: make(map[uint16]Handler),
	}, nil
}

// Handle registers h for op, replacing any existing handler.
func (d *Dispatcher) Handle(op uint16, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if _, ok := d.table.Length(op); !ok {
		return fmt.Errorf("%w: opcode 0x%04x is not in the table", ErrNoHandler, op)
	}
	d.handlers[op] = h
	return nil
}

func (d *Dispatcher) SetSecondary(s Secondary) {
	d.secondary = s
}

func (d *Dispatcher) Table() *frame.Table {
	return d.table
}

// Dispatch routes msg to its handler.
func (d *Dispatcher) Dispatch(msg frame.Message) error {
	h, ok := d.handlers[msg.Opcode]
	if !ok {
		return fmt.Errorf("%w: 0x%04x", ErrNoHandler, msg.Opcode)
	}
	return h(msg)
}

// Pump extracts and dispatches every complete message at the head of buf, in
// order, and returns how many bytes the caller must consume. live is checked
// before each extraction and after each handler: once it reports false the
// loop stops and the bytes of the message whose handler closed the link are
// not counted.
func (d *Dispatcher) Pump(buf []byte, live func() bool) (int, error) {
	consumed := 0
	for len(buf)-consumed >= frame.OpcodeLen && live() {
		tail := buf[consumed:]
		msg, n, st, err := frame.Extract(tail, d.table)
		if err != nil {
			return consumed, err
		}
		switch st {
		case frame.StatusIncomplete:
			return consumed, nil
		case frame.StatusForeign:
			op, _ := frame.PeekOpcode(tail)
			if d.secondary == nil {
				return consumed, fmt.Errorf("%w: 0x%04x", ErrUnroutable, op)
			}
			used, res := d.secondary.Parse(tail)
			switch res {
			case Handled:
				if used <= 0 || used > len(tail) {
					return consumed, fmt.Errorf("%w: opcode 0x%04x consumed=%d", ErrBadConsumed, op, used)
				}
				if !live() {
					return consumed, nil
				}
				consumed += used
				continue
			case Incomplete:
				return consumed, nil
			default:
				return consumed, fmt.Errorf("%w: 0x%04x", ErrUnroutable, op)
			}
		}
		if err := d.Dispatch(msg); err != nil {
			return consumed, err
		}
		if !live() {
			return consumed, nil
		}
		consumed += n
	}
	return consumed, nil
}
