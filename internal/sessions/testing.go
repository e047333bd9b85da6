package sessions

import (
	"sync"

	"github.com/danmuck/charlink/internal/snapshot"
)

// RecordingTransport is an in-memory Transport that records every callback.
type RecordingTransport struct {
	mu         sync.Mutex
	authorized []snapshot.Character
	refused    []RefuseCode
	notices    []string
	closed     int
}

func (r *RecordingTransport) Authorized(ch snapshot.Character) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorized = append(r.authorized, ch)
}

func (r *RecordingTransport) Refused(code RefuseCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refused = append(r.refused, code)
}

func (r *RecordingTransport) Notify(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, message)
}

func (r *RecordingTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *RecordingTransport) AuthorizedCalls() []snapshot.Character {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]snapshot.Character(nil), r.authorized...)
}

func (r *RecordingTransport) RefusedCalls() []RefuseCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RefuseCode(nil), r.refused...)
}

func (r *RecordingTransport) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func (r *RecordingTransport) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
