package protocol

import (
	"bytes"
	"fmt"
	"net/netip"
)

// putString writes s NUL-padded into dst; one byte is reserved for the NUL.
func putString(dst []byte, s string) error {
	if len(s) >= len(dst) {
		return fmt.Errorf("%w: %d bytes into %d", ErrStringTooLong, len(s), len(dst))
	}
	n := copy(dst, s)
	clear(dst[n:])
	return nil
}

func getString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putZones(dst []byte, zones []string) error {
	for i, zone := range zones {
		off := i * ZoneNameLength
		if err := putString(dst[off:off+ZoneNameLength], zone); err != nil {
			return fmt.Errorf("%w: zone[%d]=%q", err, i, zone)
		}
	}
	return nil
}

func getZones(b []byte) []string {
	out := make([]string, 0, len(b)/ZoneNameLength)
	for off := 0; off+ZoneNameLength <= len(b); off += ZoneNameLength {
		out = append(out, getString(b[off:off+ZoneNameLength]))
	}
	return out
}

// putAddr writes a 4-byte network-order IPv4 address and a little-endian port.
// The zero AddrPort encodes as all zeros.
func putAddr(dst []byte, ap netip.AddrPort) error {
	if !ap.IsValid() {
		clear(dst[:6])
		return nil
	}
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, ap)
	}
	ip := addr.As4()
	copy(dst[0:4], ip[:])
	le.PutUint16(dst[4:6], ap.Port())
	return nil
}

func getAddr(b []byte) netip.AddrPort {
	var ip [4]byte
	copy(ip[:], b[0:4])
	port := le.Uint16(b[4:6])
	if ip == [4]byte{} && port == 0 {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(netip.AddrFrom4(ip), port)
}
