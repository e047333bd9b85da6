package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/danmuck/charlink/internal/protocol/frame"
	"github.com/danmuck/charlink/internal/testutil/testlog"
)

func extractOne(t *testing.T, tbl *frame.Table, buf []byte) frame.Message {
	t.Helper()
	msg, n, st, err := frame.Extract(buf, tbl)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if st != frame.StatusComplete || n != len(buf) {
		t.Fatalf("expected one complete frame of %d bytes, got st=%s n=%d", len(buf), st, n)
	}
	return msg
}

func TestHandshakeLayout(t *testing.T) {
	testlog.Start(t)
	h := Handshake{
		UserID:   "zone01",
		Password: "secret",
		Addr:     netip.MustParseAddrPort("10.1.2.3:5121"),
	}
	buf, err := h.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != 60 {
		t.Fatalf("handshake length=%d", len(buf))
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != OpHandshake {
		t.Fatalf("opcode not written")
	}
	if string(buf[2:8]) != "zone01" || buf[8] != 0 {
		t.Fatalf("user id field: %q", buf[2:26])
	}
	if !bytes.Equal(buf[54:58], []byte{10, 1, 2, 3}) {
		t.Fatalf("ip must be network order: %v", buf[54:58])
	}
	if binary.LittleEndian.Uint16(buf[58:60]) != 5121 {
		t.Fatalf("port field: %v", buf[58:60])
	}

	got, err := DecodeHandshake(extractOne(t, OutboundTable(), buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("decoded=%+v want=%+v", got, h)
	}
}

func TestHandshakeRejectsLongCredentials(t *testing.T) {
	testlog.Start(t)
	_, err := Handshake{UserID: strings.Repeat("u", NameLength)}.Encode()
	if !errors.Is(err, ErrStringTooLong) {
		t.Fatalf("expected ErrStringTooLong, got %v", err)
	}
}

func TestHandshakeRejectsIPv6(t *testing.T) {
	testlog.Start(t)
	_, err := Handshake{UserID: "z", Addr: netip.MustParseAddrPort("[::1]:5121")}.Encode()
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestInboundEncodersFrameWithInboundTable(t *testing.T) {
	testlog.Start(t)
	regAck, err := RegistrationAck{ServerName: "authority"}.Encode()
	if err != nil {
		t.Fatalf("registration ack: %v", err)
	}
	push, err := AuthPush{AccountID: 1, Snapshot: []byte{1, 2, 3}}.Encode()
	if err != nil {
		t.Fatalf("auth push: %v", err)
	}
	announce, err := ZoneList{Addr: netip.MustParseAddrPort("10.0.0.2:5122"), Zones: []string{"prontera"}}.Encode(OpZoneAnnounce)
	if err != nil {
		t.Fatalf("zone announce: %v", err)
	}
	withdraw, err := ZoneList{Zones: []string{"geffen"}}.Encode(OpZoneWithdraw)
	if err != nil {
		t.Fatalf("zone withdraw: %v", err)
	}
	frames := [][]byte{
		HandshakeAck{}.Encode(),
		regAck,
		push,
		UserCount{Users: 7}.Encode(),
		announce,
		withdraw,
		AccountDeletion{AccountID: 3}.Encode(),
		AccountBan{AccountID: 3, Kind: BanKindUntil, Value: 1700000000}.Encode(),
		DisconnectPlayer{AccountID: 3, Reason: 2}.Encode(),
	}
	for _, buf := range frames {
		extractOne(t, InboundTable(), buf)
	}
}

func TestOutboundEncodersFrameWithOutboundTable(t *testing.T) {
	testlog.Start(t)
	reg, err := ZoneRegistration{Zones: []string{"prontera", "izlude"}}.Encode()
	if err != nil {
		t.Fatalf("zone registration: %v", err)
	}
	census, err := Census{Entries: []CensusEntry{{AccountID: 1, CharID: 2}}}.Encode()
	if err != nil {
		t.Fatalf("census: %v", err)
	}
	save, err := SaveCharacter{AccountID: 1, CharID: 2, Snapshot: []byte{9}}.Encode()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := ServerInfo{BaseRate: 100, JobRate: 100, DropRate: 100, MOTD: "welcome"}.Encode()
	if err != nil {
		t.Fatalf("server info: %v", err)
	}
	online, err := CharPresence{CharID: 2, AccountID: 1}.Encode(OpCharOnline)
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	for _, buf := range [][]byte{reg, census, save, info, online, StatusDataRequest{AccountID: 1, CharID: 2}.Encode()} {
		extractOne(t, OutboundTable(), buf)
	}
}

func TestAuthPushDecodeCopiesSnapshot(t *testing.T) {
	testlog.Start(t)
	in := AuthPush{AccountID: 2000001, Token1: 11, Expiry: 1700000000, Token2: 22, Snapshot: []byte("blob")}
	buf, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := extractOne(t, InboundTable(), buf)
	got, err := DecodeAuthPush(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg.Frame[authPushHeader] = 'X'
	if got.AccountID != in.AccountID || got.Token1 != 11 || got.Token2 != 22 || got.Expiry != in.Expiry {
		t.Fatalf("decoded=%+v", got)
	}
	if string(got.Snapshot) != "blob" {
		t.Fatalf("snapshot must be owned by the decoded value, got %q", got.Snapshot)
	}
}

func TestDecodeCensusCountMismatch(t *testing.T) {
	testlog.Start(t)
	buf, err := Census{Entries: []CensusEntry{{AccountID: 1, CharID: 2}, {AccountID: 3, CharID: 4}}}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	binary.LittleEndian.PutUint16(buf[4:6], 5)
	if _, err := DecodeCensus(frame.Message{Opcode: OpCensus, Frame: buf}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestCensusTooManyEntries(t *testing.T) {
	testlog.Start(t)
	_, err := Census{Entries: make([]CensusEntry, MaxCensusEntries+1)}.Encode()
	if !errors.Is(err, ErrTooManyEntries) {
		t.Fatalf("expected ErrTooManyEntries, got %v", err)
	}
	if _, err := (Census{Entries: make([]CensusEntry, MaxCensusEntries)}).Encode(); err != nil {
		t.Fatalf("max census must fit: %v", err)
	}
}

func TestDecodeFixedRejectsWrongLength(t *testing.T) {
	testlog.Start(t)
	buf := DisconnectPlayer{AccountID: 1, Reason: 1}.Encode()
	if _, err := DecodeDisconnectPlayer(frame.Message{Opcode: OpDisconnectPlayer, Frame: buf[:6]}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if _, err := DecodeAccountBan(frame.Message{Opcode: OpDisconnectPlayer, Frame: buf}); !errors.Is(err, ErrOpcodeMismatch) {
		t.Fatalf("expected ErrOpcodeMismatch, got %v", err)
	}
}

func TestZoneListDecode(t *testing.T) {
	testlog.Start(t)
	in := ZoneList{Addr: netip.MustParseAddrPort("192.168.0.9:6000"), Zones: []string{"payon", "alberta"}}
	buf, err := in.Encode(OpZoneWithdraw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeZoneList(extractOne(t, InboundTable(), buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Addr != in.Addr || len(got.Zones) != 2 || got.Zones[1] != "alberta" {
		t.Fatalf("decoded=%+v", got)
	}
	if _, err := in.Encode(OpCensus); !errors.Is(err, ErrOpcodeMismatch) {
		t.Fatalf("expected ErrOpcodeMismatch, got %v", err)
	}
}

func TestOpcodeName(t *testing.T) {
	testlog.Start(t)
	if OpcodeName(OpAuthPush) != "auth.push" {
		t.Fatalf("unexpected name %q", OpcodeName(OpAuthPush))
	}
	if OpcodeName(0x3000) != "0x3000" {
		t.Fatalf("unexpected fallback name %q", OpcodeName(0x3000))
	}
}
