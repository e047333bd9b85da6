package protocol

import "errors"

var (
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrInvalidLength   = errors.New("protocol: invalid length")
	ErrOpcodeMismatch  = errors.New("protocol: opcode mismatch")
	ErrStringTooLong   = errors.New("protocol: string exceeds field width")
	ErrTooManyEntries  = errors.New("protocol: too many entries for one frame")
	ErrInvalidAddress  = errors.New("protocol: address must be ipv4")
	ErrSnapshotMissing = errors.New("protocol: snapshot missing")
)
