package protocol

import (
	"fmt"

	"github.com/danmuck/charlink/internal/protocol/frame"
)

// OpBase is the first opcode owned by the front-end/authority link.
const OpBase uint16 = 0x2af8

const (
	OpHandshake         uint16 = 0x2af8
	OpHandshakeAck      uint16 = 0x2af9
	OpZoneRegistration  uint16 = 0x2afa
	OpRegistrationAck   uint16 = 0x2afb
	OpStatusDataRequest uint16 = 0x2afc
	OpAuthPush          uint16 = 0x2afd
	OpCensus            uint16 = 0x2aff
	OpUserCount         uint16 = 0x2b00
	OpSaveCharacter     uint16 = 0x2b01
	OpZoneAnnounce      uint16 = 0x2b04
	OpAccountDeletion   uint16 = 0x2b13
	OpAccountBan        uint16 = 0x2b14
	OpServerInfo        uint16 = 0x2b16
	OpCharOffline       uint16 = 0x2b17
	OpCharOnline        uint16 = 0x2b19
	OpDisconnectPlayer  uint16 = 0x2b1f
	OpZoneWithdraw      uint16 = 0x2b20
)

const (
	NameLength     = 24
	ZoneNameLength = 16
	MOTDLength     = 256
)

const vl = frame.Variable

// inboundLengths is the front-end's parse table, indexed from OpBase.
// Entries the front-end only ever sends are left as the legacy values; 0 means
// the opcode belongs to the secondary dispatcher.
var inboundLengths = [0x3d]int{
	60, 3, vl, 27, 10, vl, 6, vl, // 2af8-2aff
	6, vl, 18, 7, vl, 49, 44, 10, // 2b00-2b07
	6, 30, vl, 10, 86, 7, 44, 34, // 2b08-2b0f
	vl, vl, 10, 6, 11, vl, 0, 0, // 2b10-2b17
	vl, vl, vl, vl, vl, vl, vl, 7, // 2b18-2b1f
	vl, vl, vl, vl, vl, vl, vl, vl, // 2b20-2b27
}

// outboundLengths describes the frames the front-end emits, as the authority
// parses them.
var outboundLengths = func() [0x3d]int {
	var out [0x3d]int
	set := func(op uint16, n int) { out[op-OpBase] = n }
	set(OpHandshake, 60)
	set(OpZoneRegistration, vl)
	set(OpStatusDataRequest, 10)
	set(OpCensus, vl)
	set(OpSaveCharacter, vl)
	set(OpServerInfo, vl)
	set(OpCharOffline, 10)
	set(OpCharOnline, 10)
	return out
}()

var (
	inboundTable  = mustTable(inboundLengths[:])
	outboundTable = mustTable(outboundLengths[:])
)

// InboundTable is the table the front-end uses to frame authority traffic.
func InboundTable() *frame.Table {
	return inboundTable
}

// OutboundTable is the table an authority uses to frame front-end traffic.
func OutboundTable() *frame.Table {
	return outboundTable
}

func mustTable(lengths []int) *frame.Table {
	t, err := frame.NewTable(OpBase, lengths)
	if err != nil {
		panic("protocol: opcode table initialization failed: " + err.Error())
	}
	return t
}

var opcodeNames = map[uint16]string{
	OpHandshake:         "handshake",
	OpHandshakeAck:      "handshake.ack",
	OpZoneRegistration:  "zone.registration",
	OpRegistrationAck:   "registration.ack",
	OpStatusDataRequest: "status_data.request",
	OpAuthPush:          "auth.push",
	OpCensus:            "census",
	OpUserCount:         "user_count",
	OpSaveCharacter:     "character.save",
	OpZoneAnnounce:      "zone.announce",
	OpAccountDeletion:   "account.deletion",
	OpAccountBan:        "account.ban",
	OpServerInfo:        "server_info",
	OpCharOffline:       "char.offline",
	OpCharOnline:        "char.online",
	OpDisconnectPlayer:  "player.disconnect",
	OpZoneWithdraw:      "zone.withdraw",
}

// OpcodeName returns a stable label for logs and metrics.
func OpcodeName(op uint16) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", op)
}
