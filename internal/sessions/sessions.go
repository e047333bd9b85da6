// Package sessions tracks live client sessions on the front-end.
//
// Sessions are addressed by generation-checked handles: detaching a session
// bumps its slot epoch, so a handle held past the session's lifetime fails a
// cheap equality check instead of reaching a reused slot.
package sessions

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/charlink/internal/snapshot"
)

var (
	ErrStale           = errors.New("sessions: stale session handle")
	ErrAlreadyOnline   = errors.New("sessions: account already authorized")
	ErrAccountMismatch = errors.New("sessions: snapshot belongs to another account")
	ErrCharMismatch    = errors.New("sessions: snapshot belongs to another character")
	ErrNilTransport    = errors.New("sessions: nil transport")
)

// Handle addresses one session slot at one generation.
type Handle struct {
	Index uint32
	Epoch uint32
}

func (h Handle) IsZero() bool {
	return h.Epoch == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Index, h.Epoch)
}

// RefuseCode is the client-facing reason for a refused or terminated login.
type RefuseCode uint8

const (
	RefuseAuthFailed    RefuseCode = 0
	RefuseServerClosed  RefuseCode = 1
	RefuseAlreadyOnline RefuseCode = 2
	RefuseTimeGap       RefuseCode = 4
	RefuseOverpopulated RefuseCode = 10
	RefuseUnderage      RefuseCode = 15
)

// RefuseCodeFor maps an authority disconnect reason to the code shown to the
// client. ok is false for reasons without a mapping.
func RefuseCodeFor(reason uint8) (RefuseCode, bool) {
	switch reason {
	case 1:
		return RefuseServerClosed, true
	case 2:
		return RefuseAlreadyOnline, true
	case 3:
		return RefuseTimeGap, true
	case 4:
		return RefuseOverpopulated, true
	case 5:
		return RefuseUnderage, true
	default:
		return 0, false
	}
}

// Transport is the client connection behind a session.
type Transport interface {
	Authorized(ch snapshot.Character)
	Refused(code RefuseCode)
	Notify(message string)
	Close() error
}

// Grant is the authority's confirmation for a pending login.
type Grant struct {
	Token2   uint32
	Expiry   time.Time
	Snapshot snapshot.Blob
}

// Info is the census-facing view of one authorized session.
type Info struct {
	Handle    Handle
	AccountID uint32
	CharID    uint32
	Name      string
	GMLevel   uint8
	Hidden    bool
	Expiry    time.Time
}

type slot struct {
	epoch      uint32
	used       bool
	authorized bool
	accountID  uint32
	charID     uint32
	expiry     time.Time
	character  snapshot.Character
	transport  Transport
}

// Table owns every session slot.
type Table struct {
	mu     sync.Mutex
	slots  []slot
	free   []uint32
	online map[uint32]uint32 // account -> slot index
}

func NewTable() *Table {
	return &Table{online: make(map[uint32]uint32)}
}

// Attach registers a new client session that asked to enter the world as
// charID of accountID and is waiting for authorization.
func (t *Table) Attach(accountID, charID uint32, tr Transport) (Handle, error) {
	if tr == nil {
		return Handle{}, ErrNilTransport
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.epoch++
	if s.epoch == 0 {
		s.epoch = 1
	}
	s.used = true
	s.accountID = accountID
	s.charID = charID
	s.transport = tr
	return Handle{Index: idx, Epoch: s.epoch}, nil
}

// Detach releases h. It reports false when h was already stale.
func (t *Table) Detach(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.releaseLocked(h)
	return ok
}

func (t *Table) releaseLocked(h Handle) (Transport, bool) {
	s := t.slotLocked(h)
	if s == nil {
		return nil, false
	}
	tr := s.transport
	if s.authorized {
		delete(t.online, s.accountID)
	}
	epoch := s.epoch + 1
	*s = slot{epoch: epoch}
	t.free = append(t.free, h.Index)
	return tr, true
}

func (t *Table) slotLocked(h Handle) *slot {
	if h.IsZero() || int(h.Index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[h.Index]
	if !s.used || s.epoch != h.Epoch {
		return nil
	}
	return s
}

func (t *Table) IsLive(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slotLocked(h) != nil
}

// IsOnline reports whether accountID already has an authorized session.
func (t *Table) IsOnline(accountID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[accountID]
	return ok
}

// Lookup returns the session info for an authorized account.
func (t *Table) Lookup(accountID uint32) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.online[accountID]
	if !ok {
		return Info{}, false
	}
	return infoOf(idx, &t.slots[idx]), true
}

// Authorize completes the login behind h with the authority's grant and
// returns the character id carried by the snapshot.
func (t *Table) Authorize(h Handle, g Grant) (uint32, error) {
	ch, err := g.Snapshot.Decode()
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	s := t.slotLocked(h)
	if s == nil {
		t.mu.Unlock()
		return 0, ErrStale
	}
	if ch.AccountID != s.accountID {
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: session=%d snapshot=%d", ErrAccountMismatch, s.accountID, ch.AccountID)
	}
	if ch.CharID != s.charID {
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: session=%d snapshot=%d", ErrCharMismatch, s.charID, ch.CharID)
	}
	if idx, ok := t.online[s.accountID]; ok && idx != h.Index {
		t.mu.Unlock()
		return 0, ErrAlreadyOnline
	}
	s.authorized = true
	s.expiry = g.Expiry
	s.character = ch
	t.online[s.accountID] = h.Index
	tr := s.transport
	t.mu.Unlock()

	tr.Authorized(ch)
	return ch.CharID, nil
}

// FailAuthorization refuses the login behind h, releases the session and
// returns the character it asked for.
func (t *Table) FailAuthorization(h Handle) (uint32, bool) {
	return t.Refuse(h, RefuseAuthFailed)
}

// Refuse terminates the session behind h with code.
func (t *Table) Refuse(h Handle, code RefuseCode) (uint32, bool) {
	t.mu.Lock()
	var charID uint32
	if s := t.slotLocked(h); s != nil {
		charID = s.charID
	}
	tr, ok := t.releaseLocked(h)
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	tr.Refused(code)
	_ = tr.Close()
	return charID, true
}

// Disconnect terminates the authorized session of accountID with code.
func (t *Table) Disconnect(accountID uint32, code RefuseCode) bool {
	tr, ok := t.releaseAccount(accountID)
	if !ok {
		return false
	}
	tr.Refused(code)
	_ = tr.Close()
	return true
}

// Kick shows message to the authorized session of accountID, then closes it.
func (t *Table) Kick(accountID uint32, message string) bool {
	tr, ok := t.releaseAccount(accountID)
	if !ok {
		return false
	}
	if message != "" {
		tr.Notify(message)
	}
	_ = tr.Close()
	return true
}

func (t *Table) releaseAccount(accountID uint32) (Transport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.online[accountID]
	if !ok {
		return nil, false
	}
	return t.releaseLocked(Handle{Index: idx, Epoch: t.slots[idx].epoch})
}

// DisconnectAll terminates every session, pending or authorized, and returns
// how many were closed.
func (t *Table) DisconnectAll(code RefuseCode) int {
	t.mu.Lock()
	var victims []Transport
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used {
			continue
		}
		if tr, ok := t.releaseLocked(Handle{Index: uint32(i), Epoch: s.epoch}); ok {
			victims = append(victims, tr)
		}
	}
	t.mu.Unlock()
	for _, tr := range victims {
		tr.Refused(code)
		_ = tr.Close()
	}
	return len(victims)
}

// ForEachOnline visits a copy of every authorized session.
func (t *Table) ForEachOnline(fn func(Info)) {
	t.mu.Lock()
	out := make([]Info, 0, len(t.online))
	for _, idx := range t.online {
		out = append(out, infoOf(idx, &t.slots[idx]))
	}
	t.mu.Unlock()
	for _, info := range out {
		fn(info)
	}
}

// Counts returns the number of attached and authorized sessions.
func (t *Table) Counts() (attached, online int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].used {
			attached++
		}
	}
	return attached, len(t.online)
}

func infoOf(idx uint32, s *slot) Info {
	return Info{
		Handle:    Handle{Index: idx, Epoch: s.epoch},
		AccountID: s.accountID,
		CharID:    s.character.CharID,
		Name:      s.character.Name,
		GMLevel:   s.character.GMLevel,
		Hidden:    s.character.Hidden,
		Expiry:    s.expiry,
	}
}
