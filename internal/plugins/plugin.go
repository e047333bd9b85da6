// Package plugins holds game-logic extensions that handle authority messages
// the link core does not.
package plugins

import (
	"github.com/danmuck/charlink/internal/protocol"
	"github.com/danmuck/charlink/internal/protocol/dispatch"
	"github.com/danmuck/charlink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

type Plugin interface {
	Name() string
	Handlers() map[uint16]dispatch.Handler
}

// Discard consumes its opcodes without acting on them. It keeps a deployment
// that does not implement a feature from treating the authority's traffic for
// it as a protocol violation.
type Discard struct {
	Label   string
	Opcodes []uint16
}

func (d Discard) Name() string {
	if d.Label == "" {
		return "discard"
	}
	return d.Label
}

func (d Discard) Handlers() map[uint16]dispatch.Handler {
	out := make(map[uint16]dispatch.Handler, len(d.Opcodes))
	name := d.Name()
	for _, op := range d.Opcodes {
		out[op] = func(msg frame.Message) error {
			log.Debug().
				Str("plugin", name).
				Str("opcode", protocol.OpcodeName(msg.Opcode)).
				Int("len", msg.Len()).
				Msg("plugins.Discard dropped message")
			return nil
		}
	}
	return out
}
