// Package snapshot carries the authority's character record across the link.
//
// On the wire the record is opaque bytes; the front-end decodes it only when
// a pending authorization is resolved.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrEmpty       = errors.New("snapshot: empty blob")
	ErrUndecodable = errors.New("snapshot: undecodable blob")
	ErrIdentity    = errors.New("snapshot: missing account or character id")
)

// Character is the authoritative state of one character at login.
type Character struct {
	AccountID uint32 `cbor:"1,keyasint"`
	CharID    uint32 `cbor:"2,keyasint"`
	Name      string `cbor:"3,keyasint"`
	Class     uint16 `cbor:"4,keyasint,omitempty"`
	BaseLevel uint16 `cbor:"5,keyasint,omitempty"`
	JobLevel  uint16 `cbor:"6,keyasint,omitempty"`
	Zeny      uint32 `cbor:"7,keyasint,omitempty"`
	Map       string `cbor:"8,keyasint,omitempty"`
	X         uint16 `cbor:"9,keyasint,omitempty"`
	Y         uint16 `cbor:"10,keyasint,omitempty"`
	GMLevel   uint8  `cbor:"11,keyasint,omitempty"`
	Hidden    bool   `cbor:"12,keyasint,omitempty"`
}

// Blob is an encoded Character.
type Blob []byte

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1024,
		MaxMapPairs:      64,
	}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes c with deterministic encoding.
func Encode(c Character) (Blob, error) {
	if c.AccountID == 0 || c.CharID == 0 {
		return nil, ErrIdentity
	}
	out, err := encMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return out, nil
}

// Decode parses b into a Character.
func (b Blob) Decode() (Character, error) {
	if len(b) == 0 {
		return Character{}, ErrEmpty
	}
	var c Character
	if err := decMode.Unmarshal(b, &c); err != nil {
		return Character{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if c.AccountID == 0 || c.CharID == 0 {
		return Character{}, ErrIdentity
	}
	return c, nil
}

func (b Blob) Clone() Blob {
	if b == nil {
		return nil
	}
	out := make(Blob, len(b))
	copy(out, b)
	return out
}
