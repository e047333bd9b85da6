package link

import "fmt"

// State is the link state machine. Any transport error returns to
// Disconnected; there is no terminal state.
type State int

const (
	Disconnected State = iota
	Connecting
	HandshakeSent
	Registering
	Ready
)

var stateNames = []string{"disconnected", "connecting", "handshake_sent", "registering", "ready"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StateNames lists every state label in machine order.
func StateNames() []string {
	return append([]string(nil), stateNames...)
}
