package dispatch

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/danmuck/charlink/internal/protocol/frame"
	"github.com/danmuck/charlink/internal/testutil/testlog"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	// 0x2000 fixed 4, 0x2001 variable, 0x2002 delegated
	tbl, err := frame.NewTable(0x2000, []int{4, frame.Variable, 0})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	d, err := New(tbl)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func fixedFrame(op uint16, a, b byte) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf, op)
	buf[2], buf[3] = a, b
	return buf
}

func variableFrame(op uint16, body ...byte) []byte {
	buf := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint16(buf[0:2], op)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(4+len(body)))
	return append(buf, body...)
}

func always() bool { return true }

func TestPumpDispatchesInOrder(t *testing.T) {
	testlog.Start(t)
	d := newTestDispatcher(t)
	var seen []uint16
	record := func(msg frame.Message) error {
		seen = append(seen, msg.Opcode)
		return nil
	}
	if err := d.Handle(0x2000, record); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := d.Handle(0x2001, record); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var buf []byte
	buf = append(buf, fixedFrame(0x2000, 1, 2)...)
	buf = append(buf, variableFrame(0x2001, 7, 7, 7)...)
	buf = append(buf, fixedFrame(0x2000, 3, 4)...)
	buf = append(buf, 0x00) // partial opcode

	n, err := d.Pump(buf, always)
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if n != len(buf)-1 {
		t.Fatalf("consumed=%d want=%d", n, len(buf)-1)
	}
	if len(seen) != 3 || seen[0] != 0x2000 || seen[1] != 0x2001 || seen[2] != 0x2000 {
		t.Fatalf("dispatch order=%v", seen)
	}
}

func TestPumpChunkInvariant(t *testing.T) {
	testlog.Start(t)
	var stream []byte
	for i := 0; i < 40; i++ {
		if i%3 == 0 {
			stream = append(stream, variableFrame(0x2001, byte(i), byte(i+1))...)
		} else {
			stream = append(stream, fixedFrame(0x2000, byte(i), 0)...)
		}
	}

	run := func(chunks [][]byte) []byte {
		d := newTestDispatcher(t)
		var order []byte
		h := func(msg frame.Message) error {
			order = append(order, msg.Frame[len(msg.Frame)-2])
			return nil
		}
		_ = d.Handle(0x2000, h)
		_ = d.Handle(0x2001, h)
		var pending []byte
		for _, c := range chunks {
			pending = append(pending, c...)
			n, err := d.Pump(pending, always)
			if err != nil {
				t.Fatalf("pump: %v", err)
			}
			pending = pending[n:]
		}
		if len(pending) != 0 {
			t.Fatalf("leftover bytes after full stream: %d", len(pending))
		}
		return order
	}

	want := run([][]byte{stream})
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 100; trial++ {
		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			k := 1 + rng.Intn(9)
			if k > len(rest) {
				k = len(rest)
			}
			chunks = append(chunks, rest[:k])
			rest = rest[k:]
		}
		got := run(chunks)
		if string(got) != string(want) {
			t.Fatalf("trial %d: order diverged", trial)
		}
	}
}

func TestPumpStopsWhenHandlerClosesLink(t *testing.T) {
	testlog.Start(t)
	d := newTestDispatcher(t)
	live := true
	calls := 0
	_ = d.Handle(0x2000, func(msg frame.Message) error {
		calls++
		if msg.Frame[2] == 2 {
			live = false
		}
		return nil
	})
	var buf []byte
	buf = append(buf, fixedFrame(0x2000, 1, 0)...)
	buf = append(buf, fixedFrame(0x2000, 2, 0)...)
	buf = append(buf, fixedFrame(0x2000, 3, 0)...)

	n, err := d.Pump(buf, func() bool { return live })
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if calls != 2 {
		t.Fatalf("handler calls=%d want=2", calls)
	}
	if n != 4 {
		t.Fatalf("closing message must stay unconsumed, consumed=%d", n)
	}
}

func TestPumpSecondaryResults(t *testing.T) {
	testlog.Start(t)
	d := newTestDispatcher(t)
	_ = d.Handle(0x2000, func(frame.Message) error { return nil })

	foreign := []byte{0x02, 0x20, 0xaa}
	var res Result
	d.SetSecondary(SecondaryFunc(func(buf []byte) (int, Result) {
		if res == Handled {
			return 3, Handled
		}
		return 0, res
	}))

	res = Handled
	n, err := d.Pump(append(append([]byte{}, foreign...), fixedFrame(0x2000, 0, 0)...), always)
	if err != nil || n != 3+4 {
		t.Fatalf("handled: n=%d err=%v", n, err)
	}

	res = Incomplete
	n, err = d.Pump(foreign, always)
	if err != nil || n != 0 {
		t.Fatalf("incomplete: n=%d err=%v", n, err)
	}

	res = Unhandled
	if _, err = d.Pump(foreign, always); !errors.Is(err, ErrUnroutable) {
		t.Fatalf("expected ErrUnroutable, got %v", err)
	}

	d.SetSecondary(nil)
	if _, err = d.Pump(foreign, always); !errors.Is(err, ErrUnroutable) {
		t.Fatalf("expected ErrUnroutable without secondary, got %v", err)
	}
}

func TestPumpReportsFramingErrors(t *testing.T) {
	testlog.Start(t)
	d := newTestDispatcher(t)
	bad := []byte{0x01, 0x20, 0x03, 0x00}
	if _, err := d.Pump(bad, always); !errors.Is(err, frame.ErrLengthTooSmall) {
		t.Fatalf("expected ErrLengthTooSmall, got %v", err)
	}
	if _, err := d.Pump(fixedFrame(0x2000, 0, 0), always); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
	handlerErr := errors.New("boom")
	_ = d.Handle(0x2000, func(frame.Message) error { return handlerErr })
	if _, err := d.Pump(fixedFrame(0x2000, 0, 0), always); !errors.Is(err, handlerErr) {
		t.Fatalf("handler error must surface, got %v", err)
	}
}

func TestHandleRejectsUnknownOpcode(t *testing.T) {
	testlog.Start(t)
	d := newTestDispatcher(t)
	if err := d.Handle(0x2002, func(frame.Message) error { return nil }); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler for delegated opcode, got %v", err)
	}
	if err := d.Handle(0x2000, nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}
}
