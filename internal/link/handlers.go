package link

import (
	"fmt"
	"time"

	"github.com/danmuck/charlink/internal/observability"
	"github.com/danmuck/charlink/internal/protocol"
	"github.com/danmuck/charlink/internal/protocol/dispatch"
	"github.com/danmuck/charlink/internal/protocol/frame"
	"github.com/danmuck/charlink/internal/sessions"
	"github.com/danmuck/charlink/internal/snapshot"
)

func (s *Supervisor) registerHandlers() error {
	routes := map[uint16]dispatch.Handler{
		protocol.OpHandshakeAck:     s.onHandshakeAck,
		protocol.OpRegistrationAck:  s.onRegistrationAck,
		protocol.OpAuthPush:         s.ready(s.onAuthPush),
		protocol.OpUserCount:        s.ready(s.onUserCount),
		protocol.OpZoneAnnounce:     s.ready(s.onZoneList),
		protocol.OpZoneWithdraw:     s.ready(s.onZoneList),
		protocol.OpAccountDeletion:  s.ready(s.onAccountDeletion),
		protocol.OpAccountBan:       s.ready(s.onAccountBan),
		protocol.OpDisconnectPlayer: s.ready(s.onDisconnectPlayer),
	}
	s.reserved = make(map[uint16]bool, len(routes))
	for op, h := range routes {
		if err := s.router.Handle(op, s.observe(op, h)); err != nil {
			return err
		}
		s.reserved[op] = true
	}
	return nil
}

func (s *Supervisor) observe(op uint16, h dispatch.Handler) dispatch.Handler {
	name := protocol.OpcodeName(op)
	return func(msg frame.Message) error {
		observability.RecordFrame(s.cfg.Node, "in", name)
		s.logger.Trace().Str("opcode", name).Int("len", msg.Len()).Msg("link.Supervisor.dispatch")
		return h(msg)
	}
}

// ready rejects messages that arrive before registration completes.
func (s *Supervisor) ready(h dispatch.Handler) dispatch.Handler {
	return func(msg frame.Message) error {
		if s.state != Ready {
			return s.unexpected(msg)
		}
		return h(msg)
	}
}

func (s *Supervisor) unexpected(msg frame.Message) error {
	return fmt.Errorf("%w: %s in %s", ErrUnexpectedMessage, protocol.OpcodeName(msg.Opcode), s.state)
}

func (s *Supervisor) onHandshakeAck(msg frame.Message) error {
	if s.state != HandshakeSent {
		return s.unexpected(msg)
	}
	ack, err := protocol.DecodeHandshakeAck(msg)
	if err != nil {
		return err
	}
	if ack.Result != protocol.ResultOK {
		return fmt.Errorf("%w: result=%d user=%q", ErrHandshakeRejected, ack.Result, s.cfg.UserID)
	}
	buf, err := protocol.ZoneRegistration{Zones: s.cfg.Zones}.Encode()
	if err != nil {
		return err
	}
	if err := s.send(buf); err != nil {
		return nil
	}
	s.setState(Registering)
	s.logger.Info().Int("zones", len(s.cfg.Zones)).Msg("link.Supervisor handshake accepted")
	return nil
}

func (s *Supervisor) onRegistrationAck(msg frame.Message) error {
	if s.state != Registering {
		return s.unexpected(msg)
	}
	ack, err := protocol.DecodeRegistrationAck(msg)
	if err != nil {
		return err
	}
	if ack.Result != protocol.ResultOK {
		return fmt.Errorf("%w: result=%d", ErrRegistrationRejected, ack.Result)
	}
	s.serverName = ack.ServerName
	s.enterReady(s.conn)
	return nil
}

func (s *Supervisor) onAuthPush(msg frame.Message) error {
	push, err := protocol.DecodeAuthPush(msg)
	if err != nil {
		return err
	}
	out := s.registry.RemoteArrival(
		push.AccountID,
		push.Token1,
		push.Token2,
		time.Unix(int64(push.Expiry), 0),
		snapshot.Blob(push.Snapshot),
	)
	s.logger.Debug().Uint32("account_id", push.AccountID).Str("outcome", out.String()).Msg("link.Supervisor auth push")
	return nil
}

func (s *Supervisor) onUserCount(msg frame.Message) error {
	uc, err := protocol.DecodeUserCount(msg)
	if err != nil {
		return err
	}
	s.userCount = uc.Users
	return nil
}

func (s *Supervisor) onZoneList(msg frame.Message) error {
	zl, err := protocol.DecodeZoneList(msg)
	if err != nil {
		return err
	}
	if msg.Opcode == protocol.OpZoneAnnounce {
		n := s.zones.Announce(zl.Addr, zl.Zones)
		s.logger.Info().Str("addr", zl.Addr.String()).Int("zones", n).Msg("link.Supervisor remote zones announced")
		return nil
	}
	n := s.zones.Withdraw(zl.Addr, zl.Zones)
	s.logger.Info().Str("addr", zl.Addr.String()).Int("zones", n).Msg("link.Supervisor remote zones withdrawn")
	return nil
}

func (s *Supervisor) onAccountDeletion(msg frame.Message) error {
	d, err := protocol.DecodeAccountDeletion(msg)
	if err != nil {
		return err
	}
	if !s.sessions.Kick(d.AccountID, "Your account has been deleted (disconnection)...") {
		s.logger.Debug().Uint32("account_id", d.AccountID).Msg("link.Supervisor account deletion: not online")
	}
	return nil
}

func (s *Supervisor) onAccountBan(msg frame.Message) error {
	b, err := protocol.DecodeAccountBan(msg)
	if err != nil {
		return err
	}
	if !s.sessions.Kick(b.AccountID, banMessage(b)) {
		s.logger.Debug().Uint32("account_id", b.AccountID).Msg("link.Supervisor account ban: not online")
	}
	return nil
}

func (s *Supervisor) onDisconnectPlayer(msg frame.Message) error {
	d, err := protocol.DecodeDisconnectPlayer(msg)
	if err != nil {
		return err
	}
	code, ok := sessions.RefuseCodeFor(d.Reason)
	if !ok {
		s.logger.Warn().Uint32("account_id", d.AccountID).Uint8("reason", d.Reason).Msg("link.Supervisor disconnect player: unknown reason")
		return nil
	}
	s.sessions.Disconnect(d.AccountID, code)
	return nil
}

var statusMessages = map[uint32]string{
	1:   "Your account has 'Unregistered'.",
	2:   "Your account has an 'Incorrect Password'...",
	3:   "Your account has expired.",
	4:   "Your account has been rejected from server.",
	5:   "Your account has been blocked by the GM Team.",
	6:   "Your Game's EXE file is not the latest version.",
	7:   "Your account has been prohibited to log in.",
	8:   "Server is jammed due to over populated.",
	100: "Your account has been totally erased.",
}

func banMessage(b protocol.AccountBan) string {
	if b.Kind == protocol.BanKindUntil {
		until := time.Unix(int64(b.Value), 0).UTC()
		return "Your account has been banished until " + until.Format("02-01-2006 15:04:05")
	}
	if msg, ok := statusMessages[b.Value]; ok {
		return msg
	}
	return "Your account has not more authorised."
}
