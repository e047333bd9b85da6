// Package census builds the periodic online-character report sent to the
// authority while the link is ready.
package census

import (
	"sort"

	"github.com/danmuck/charlink/internal/protocol"
	"github.com/danmuck/charlink/internal/sessions"
)

// Source enumerates authorized sessions.
type Source interface {
	ForEachOnline(fn func(sessions.Info))
}

type Policy struct {
	// HideGMSessions omits every GM character from the report.
	HideGMSessions bool
}

type Reporter struct {
	source Source
	policy Policy
}

func NewReporter(source Source, policy Policy) *Reporter {
	return &Reporter{source: source, policy: policy}
}

// Collect returns the reportable sessions ordered by account id. A GM
// character is omitted when the policy hides GM sessions or the character
// is flagged hidden.
func (r *Reporter) Collect() []protocol.CensusEntry {
	var out []protocol.CensusEntry
	r.source.ForEachOnline(func(info sessions.Info) {
		if info.GMLevel > 0 && (r.policy.HideGMSessions || info.Hidden) {
			return
		}
		out = append(out, protocol.CensusEntry{AccountID: info.AccountID, CharID: info.CharID})
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// Frame encodes one census report. It fails with protocol.ErrTooManyEntries
// when the report does not fit a single frame.
func (r *Reporter) Frame() ([]byte, int, error) {
	entries := r.Collect()
	buf, err := protocol.Census{Entries: entries}.Encode()
	if err != nil {
		return nil, len(entries), err
	}
	return buf, len(entries), nil
}
