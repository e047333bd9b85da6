package protocol

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/danmuck/charlink/internal/protocol/frame"
)

var le = binary.LittleEndian

// Result codes carried by the two acknowledgment frames.
const (
	ResultOK       uint8 = 0
	ResultRejected uint8 = 1
)

// Handshake is the front-end's identity frame, sent first on every connection.
type Handshake struct {
	UserID   string
	Password string
	Addr     netip.AddrPort
}

const handshakeLen = 60

func (h Handshake) Encode() ([]byte, error) {
	buf := frame.NewFixed(OpHandshake, handshakeLen)
	if err := putString(buf[2:26], h.UserID); err != nil {
		return nil, fmt.Errorf("%w: user id", err)
	}
	if err := putString(buf[26:50], h.Password); err != nil {
		return nil, fmt.Errorf("%w: password", err)
	}
	if err := putAddr(buf[54:60], h.Addr); err != nil {
		return nil, err
	}
	return buf, nil
}

func DecodeHandshake(m frame.Message) (Handshake, error) {
	if err := expectFixed(m, OpHandshake, handshakeLen); err != nil {
		return Handshake{}, err
	}
	return Handshake{
		UserID:   getString(m.Frame[2:26]),
		Password: getString(m.Frame[26:50]),
		Addr:     getAddr(m.Frame[54:60]),
	}, nil
}

// HandshakeAck answers a Handshake; a non-zero result is a refusal.
type HandshakeAck struct {
	Result uint8
}

func (a HandshakeAck) Encode() []byte {
	buf := frame.NewFixed(OpHandshakeAck, 3)
	buf[2] = a.Result
	return buf
}

func DecodeHandshakeAck(m frame.Message) (HandshakeAck, error) {
	if err := expectFixed(m, OpHandshakeAck, 3); err != nil {
		return HandshakeAck{}, err
	}
	return HandshakeAck{Result: m.Frame[2]}, nil
}

// ZoneRegistration lists the zones this front-end serves.
type ZoneRegistration struct {
	Zones []string
}

func (r ZoneRegistration) Encode() ([]byte, error) {
	buf, err := frame.NewVariable(OpZoneRegistration, 4+len(r.Zones)*ZoneNameLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %d zones", ErrTooManyEntries, len(r.Zones))
	}
	if err := putZones(buf[4:], r.Zones); err != nil {
		return nil, err
	}
	return buf, nil
}

func DecodeZoneRegistration(m frame.Message) (ZoneRegistration, error) {
	if err := expectVariable(m, OpZoneRegistration, 4); err != nil {
		return ZoneRegistration{}, err
	}
	return ZoneRegistration{Zones: getZones(m.Frame[4:])}, nil
}

// RegistrationAck answers a ZoneRegistration and names the authority.
type RegistrationAck struct {
	Result     uint8
	ServerName string
}

const registrationAckLen = 27

func (a RegistrationAck) Encode() ([]byte, error) {
	buf := frame.NewFixed(OpRegistrationAck, registrationAckLen)
	buf[2] = a.Result
	if err := putString(buf[3:27], a.ServerName); err != nil {
		return nil, fmt.Errorf("%w: server name", err)
	}
	return buf, nil
}

func DecodeRegistrationAck(m frame.Message) (RegistrationAck, error) {
	if err := expectFixed(m, OpRegistrationAck, registrationAckLen); err != nil {
		return RegistrationAck{}, err
	}
	return RegistrationAck{Result: m.Frame[2], ServerName: getString(m.Frame[3:27])}, nil
}

// AuthPush carries authoritative character data for an account that is
// about to enter this front-end.
type AuthPush struct {
	AccountID uint32
	Token1    uint32
	Expiry    uint32
	Token2    uint32
	Snapshot  []byte
}

const authPushHeader = 20

func (p AuthPush) Encode() ([]byte, error) {
	buf, err := frame.NewVariable(OpAuthPush, authPushHeader+len(p.Snapshot))
	if err != nil {
		return nil, err
	}
	le.PutUint32(buf[4:8], p.AccountID)
	le.PutUint32(buf[8:12], p.Token1)
	le.PutUint32(buf[12:16], p.Expiry)
	le.PutUint32(buf[16:20], p.Token2)
	copy(buf[20:], p.Snapshot)
	return buf, nil
}

func DecodeAuthPush(m frame.Message) (AuthPush, error) {
	if err := expectVariable(m, OpAuthPush, authPushHeader); err != nil {
		return AuthPush{}, err
	}
	snap := make([]byte, len(m.Frame)-authPushHeader)
	copy(snap, m.Frame[authPushHeader:])
	return AuthPush{
		AccountID: le.Uint32(m.Frame[4:8]),
		Token1:    le.Uint32(m.Frame[8:12]),
		Expiry:    le.Uint32(m.Frame[12:16]),
		Token2:    le.Uint32(m.Frame[16:20]),
		Snapshot:  snap,
	}, nil
}

// CensusEntry is one visible session.
type CensusEntry struct {
	AccountID uint32
	CharID    uint32
}

// MaxCensusEntries is the most entries that fit one 16-bit frame.
const MaxCensusEntries = (frame.MaxFrameLen - 6) / 8

type Census struct {
	Entries []CensusEntry
}

func (c Census) Encode() ([]byte, error) {
	if len(c.Entries) > MaxCensusEntries {
		return nil, fmt.Errorf("%w: %d census entries", ErrTooManyEntries, len(c.Entries))
	}
	buf, err := frame.NewVariable(OpCensus, 6+8*len(c.Entries))
	if err != nil {
		return nil, err
	}
	le.PutUint16(buf[4:6], uint16(len(c.Entries)))
	for i, e := range c.Entries {
		off := 6 + 8*i
		le.PutUint32(buf[off:off+4], e.AccountID)
		le.PutUint32(buf[off+4:off+8], e.CharID)
	}
	return buf, nil
}

func DecodeCensus(m frame.Message) (Census, error) {
	if err := expectVariable(m, OpCensus, 6); err != nil {
		return Census{}, err
	}
	count := int(le.Uint16(m.Frame[4:6]))
	if 6+8*count != len(m.Frame) {
		return Census{}, fmt.Errorf("%w: census count=%d frame=%d", ErrInvalidLength, count, len(m.Frame))
	}
	out := Census{Entries: make([]CensusEntry, count)}
	for i := range out.Entries {
		off := 6 + 8*i
		out.Entries[i] = CensusEntry{
			AccountID: le.Uint32(m.Frame[off : off+4]),
			CharID:    le.Uint32(m.Frame[off+4 : off+8]),
		}
	}
	return out, nil
}

// UserCount is the authority's global online count.
type UserCount struct {
	Users uint32
}

func (u UserCount) Encode() []byte {
	buf := frame.NewFixed(OpUserCount, 6)
	le.PutUint32(buf[2:6], u.Users)
	return buf
}

func DecodeUserCount(m frame.Message) (UserCount, error) {
	if err := expectFixed(m, OpUserCount, 6); err != nil {
		return UserCount{}, err
	}
	return UserCount{Users: le.Uint32(m.Frame[2:6])}, nil
}

// StatusDataRequest asks the authority for a character's saved status effects.
type StatusDataRequest struct {
	AccountID uint32
	CharID    uint32
}

func (r StatusDataRequest) Encode() []byte {
	buf := frame.NewFixed(OpStatusDataRequest, 10)
	le.PutUint32(buf[2:6], r.AccountID)
	le.PutUint32(buf[6:10], r.CharID)
	return buf
}

func DecodeStatusDataRequest(m frame.Message) (StatusDataRequest, error) {
	if err := expectFixed(m, OpStatusDataRequest, 10); err != nil {
		return StatusDataRequest{}, err
	}
	return StatusDataRequest{AccountID: le.Uint32(m.Frame[2:6]), CharID: le.Uint32(m.Frame[6:10])}, nil
}

// SaveCharacter hands a character snapshot back to the authority.
type SaveCharacter struct {
	AccountID uint32
	CharID    uint32
	Snapshot  []byte
}

func (s SaveCharacter) Encode() ([]byte, error) {
	if len(s.Snapshot) == 0 {
		return nil, ErrSnapshotMissing
	}
	buf, err := frame.NewVariable(OpSaveCharacter, 12+len(s.Snapshot))
	if err != nil {
		return nil, err
	}
	le.PutUint32(buf[4:8], s.AccountID)
	le.PutUint32(buf[8:12], s.CharID)
	copy(buf[12:], s.Snapshot)
	return buf, nil
}

func DecodeSaveCharacter(m frame.Message) (SaveCharacter, error) {
	if err := expectVariable(m, OpSaveCharacter, 12); err != nil {
		return SaveCharacter{}, err
	}
	snap := make([]byte, len(m.Frame)-12)
	copy(snap, m.Frame[12:])
	return SaveCharacter{
		AccountID: le.Uint32(m.Frame[4:8]),
		CharID:    le.Uint32(m.Frame[8:12]),
		Snapshot:  snap,
	}, nil
}

// ZoneList is the body of both zone announce and zone withdraw frames:
// zones served by another front-end at Addr.
type ZoneList struct {
	Addr  netip.AddrPort
	Zones []string
}

func (z ZoneList) Encode(op uint16) ([]byte, error) {
	if op != OpZoneAnnounce && op != OpZoneWithdraw {
		return nil, fmt.Errorf("%w: 0x%04x is not a zone list", ErrOpcodeMismatch, op)
	}
	buf, err := frame.NewVariable(op, 10+len(z.Zones)*ZoneNameLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %d zones", ErrTooManyEntries, len(z.Zones))
	}
	if err := putAddr(buf[4:10], z.Addr); err != nil {
		return nil, err
	}
	if err := putZones(buf[10:], z.Zones); err != nil {
		return nil, err
	}
	return buf, nil
}

func DecodeZoneList(m frame.Message) (ZoneList, error) {
	if m.Opcode != OpZoneAnnounce && m.Opcode != OpZoneWithdraw {
		return ZoneList{}, fmt.Errorf("%w: got 0x%04x", ErrOpcodeMismatch, m.Opcode)
	}
	if err := expectVariable(m, m.Opcode, 10); err != nil {
		return ZoneList{}, err
	}
	return ZoneList{Addr: getAddr(m.Frame[4:10]), Zones: getZones(m.Frame[10:])}, nil
}

// AccountDeletion tells the front-end an account no longer exists.
type AccountDeletion struct {
	AccountID uint32
}

func (d AccountDeletion) Encode() []byte {
	buf := frame.NewFixed(OpAccountDeletion, 6)
	le.PutUint32(buf[2:6], d.AccountID)
	return buf
}

func DecodeAccountDeletion(m frame.Message) (AccountDeletion, error) {
	if err := expectFixed(m, OpAccountDeletion, 6); err != nil {
		return AccountDeletion{}, err
	}
	return AccountDeletion{AccountID: le.Uint32(m.Frame[2:6])}, nil
}

// Ban kinds carried by AccountBan.
const (
	BanKindStatus uint8 = 0
	BanKindUntil  uint8 = 1
)

// AccountBan reports a status change or a timed ban. Value is a status code
// for BanKindStatus and a unix timestamp for BanKindUntil.
type AccountBan struct {
	AccountID uint32
	Kind      uint8
	Value     uint32
}

func (b AccountBan) Encode() []byte {
	buf := frame.NewFixed(OpAccountBan, 11)
	le.PutUint32(buf[2:6], b.AccountID)
	buf[6] = b.Kind
	le.PutUint32(buf[7:11], b.Value)
	return buf
}

func DecodeAccountBan(m frame.Message) (AccountBan, error) {
	if err := expectFixed(m, OpAccountBan, 11); err != nil {
		return AccountBan{}, err
	}
	return AccountBan{
		AccountID: le.Uint32(m.Frame[2:6]),
		Kind:      m.Frame[6],
		Value:     le.Uint32(m.Frame[7:11]),
	}, nil
}

// DisconnectPlayer asks the front-end to drop an account's session.
type DisconnectPlayer struct {
	AccountID uint32
	Reason    uint8
}

func (d DisconnectPlayer) Encode() []byte {
	buf := frame.NewFixed(OpDisconnectPlayer, 7)
	le.PutUint32(buf[2:6], d.AccountID)
	buf[6] = d.Reason
	return buf
}

func DecodeDisconnectPlayer(m frame.Message) (DisconnectPlayer, error) {
	if err := expectFixed(m, OpDisconnectPlayer, 7); err != nil {
		return DisconnectPlayer{}, err
	}
	return DisconnectPlayer{AccountID: le.Uint32(m.Frame[2:6]), Reason: m.Frame[6]}, nil
}

// ServerInfo publishes rates and the message of the day.
type ServerInfo struct {
	BaseRate uint16
	JobRate  uint16
	DropRate uint16
	MOTD     string
}

const serverInfoLen = 10 + MOTDLength

func (s ServerInfo) Encode() ([]byte, error) {
	buf, err := frame.NewVariable(OpServerInfo, serverInfoLen)
	if err != nil {
		return nil, err
	}
	le.PutUint16(buf[4:6], s.BaseRate)
	le.PutUint16(buf[6:8], s.JobRate)
	le.PutUint16(buf[8:10], s.DropRate)
	if err := putString(buf[10:], s.MOTD); err != nil {
		return nil, fmt.Errorf("%w: motd", err)
	}
	return buf, nil
}

func DecodeServerInfo(m frame.Message) (ServerInfo, error) {
	if err := expectVariable(m, OpServerInfo, serverInfoLen); err != nil {
		return ServerInfo{}, err
	}
	return ServerInfo{
		BaseRate: le.Uint16(m.Frame[4:6]),
		JobRate:  le.Uint16(m.Frame[6:8]),
		DropRate: le.Uint16(m.Frame[8:10]),
		MOTD:     getString(m.Frame[10:serverInfoLen]),
	}, nil
}

// CharPresence is the body of char online/offline notices.
type CharPresence struct {
	CharID    uint32
	AccountID uint32
}

func (p CharPresence) Encode(op uint16) ([]byte, error) {
	if op != OpCharOnline && op != OpCharOffline {
		return nil, fmt.Errorf("%w: 0x%04x is not a presence notice", ErrOpcodeMismatch, op)
	}
	buf := frame.NewFixed(op, 10)
	le.PutUint32(buf[2:6], p.CharID)
	le.PutUint32(buf[6:10], p.AccountID)
	return buf, nil
}

func DecodeCharPresence(m frame.Message) (CharPresence, error) {
	if m.Opcode != OpCharOnline && m.Opcode != OpCharOffline {
		return CharPresence{}, fmt.Errorf("%w: got 0x%04x", ErrOpcodeMismatch, m.Opcode)
	}
	if err := expectFixed(m, m.Opcode, 10); err != nil {
		return CharPresence{}, err
	}
	return CharPresence{CharID: le.Uint32(m.Frame[2:6]), AccountID: le.Uint32(m.Frame[6:10])}, nil
}

func expectFixed(m frame.Message, op uint16, n int) error {
	if m.Opcode != op {
		return fmt.Errorf("%w: want 0x%04x got 0x%04x", ErrOpcodeMismatch, op, m.Opcode)
	}
	if len(m.Frame) != n {
		return fmt.Errorf("%w: opcode 0x%04x want %d got %d", ErrInvalidLength, op, n, len(m.Frame))
	}
	return nil
}

func expectVariable(m frame.Message, op uint16, min int) error {
	if m.Opcode != op {
		return fmt.Errorf("%w: want 0x%04x got 0x%04x", ErrOpcodeMismatch, op, m.Opcode)
	}
	if len(m.Frame) < min {
		return fmt.Errorf("%w: opcode 0x%04x needs %d bytes, got %d", ErrTruncated, op, min, len(m.Frame))
	}
	if int(le.Uint16(m.Frame[2:4])) != len(m.Frame) {
		return fmt.Errorf("%w: opcode 0x%04x length field disagrees with frame", ErrInvalidLength, op)
	}
	return nil
}
