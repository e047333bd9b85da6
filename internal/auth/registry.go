// Package auth holds the pending-auth rendezvous between a client's local
// arrival on the front-end and the authority's confirmation for the same
// account, plus the credential check used by the admin surface.
//
// Ownership boundary:
// - one transient record per account until both halves meet or the TTL passes
// - authorization callbacks into the session table
// - offline/status notices back to the authority
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/charlink/internal/keyed"
	"github.com/danmuck/charlink/internal/observability"
	"github.com/danmuck/charlink/internal/sessions"
	"github.com/danmuck/charlink/internal/snapshot"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNilDirectory = errors.New("auth: nil session directory")
	ErrNilAuthority = errors.New("auth: nil authority")
	ErrInvalidTTL   = errors.New("auth: ttl must be positive")
)

const DefaultTTL = 30 * time.Second

// Directory is the session side of the rendezvous.
type Directory interface {
	IsOnline(accountID uint32) bool
	IsLive(h sessions.Handle) bool
	Authorize(h sessions.Handle, g sessions.Grant) (uint32, error)
	FailAuthorization(h sessions.Handle) (uint32, bool)
}

// Authority receives the notices the registry owes the authority.
type Authority interface {
	NotifyOffline(accountID, charID uint32)
	RequestStatusData(accountID, charID uint32)
}

// Outcome is the result of one arrival.
type Outcome int

const (
	Pending Outcome = iota
	Authorized
	Failed
	Rejected
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Authorized:
		return "authorized"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Record is one half-met rendezvous. Exactly one of Session or Snapshot is
// set while the record is stored.
type Record struct {
	AccountID uint32
	Session   sessions.Handle
	Token1    uint32
	Token2    uint32
	Expiry    time.Time
	Snapshot  snapshot.Blob
	CreatedAt time.Time
}

func (r *Record) local() bool {
	return !r.Session.IsZero()
}

type Config struct {
	TTL   time.Duration
	Node  string
	Clock func() time.Time
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{TTL: DefaultTTL}
}

func (c Config) WithDefaults() Config {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

func (c Config) Validate() error {
	if c.TTL <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

// Registry pairs local arrivals with authority pushes. It is not synchronized
// beyond its store; callers drive it from one event loop.
type Registry struct {
	cfg       Config
	dir       Directory
	authority Authority
	logger    zerolog.Logger
	records   *keyed.Store[uint32, *Record]
}

func NewRegistry(cfg Config, dir Directory, authority Authority) (*Registry, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dir == nil {
		return nil, ErrNilDirectory
	}
	if authority == nil {
		return nil, ErrNilAuthority
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Registry{
		cfg:       cfg,
		dir:       dir,
		authority: authority,
		logger:    logger.With().Str("component", "auth.Registry").Logger(),
		records:   keyed.New[uint32, *Record](),
	}, nil
}

// LocalArrival records that the client behind h entered with token1 for
// accountID, or completes the rendezvous if the authority already confirmed.
func (r *Registry) LocalArrival(accountID, token1 uint32, h sessions.Handle) Outcome {
	out := r.localArrival(accountID, token1, h)
	r.record("local", out)
	return out
}

func (r *Registry) localArrival(accountID, token1 uint32, h sessions.Handle) Outcome {
	if r.dir.IsOnline(accountID) {
		r.logger.Debug().Uint32("account_id", accountID).Msg("auth.Registry.LocalArrival account already online")
		return Rejected
	}
	rec, inserted := r.records.PutIfAbsent(accountID, &Record{
		AccountID: accountID,
		Session:   h,
		Token1:    token1,
		CreatedAt: r.cfg.Clock(),
	})
	if inserted {
		return Pending
	}
	r.records.Remove(accountID)

	if rec.local() || rec.Token1 != token1 {
		r.logger.Warn().
			Uint32("account_id", accountID).
			Bool("competing_session", rec.local()).
			Msg("auth.Registry.LocalArrival token mismatch")
		r.fail(accountID, h)
		return Failed
	}
	return r.authorize(accountID, h, rec)
}

// RemoteArrival records the authority's confirmation for accountID, or
// completes the rendezvous with a waiting local session.
func (r *Registry) RemoteArrival(accountID, token1, token2 uint32, expiry time.Time, snap snapshot.Blob) Outcome {
	out := r.remoteArrival(accountID, token1, token2, expiry, snap)
	r.record("remote", out)
	return out
}

func (r *Registry) remoteArrival(accountID, token1, token2 uint32, expiry time.Time, snap snapshot.Blob) Outcome {
	if r.dir.IsOnline(accountID) {
		r.logger.Info().Uint32("account_id", accountID).Msg("auth.Registry.RemoteArrival account already online, push discarded")
		return Rejected
	}
	incoming := &Record{
		AccountID: accountID,
		Token1:    token1,
		Token2:    token2,
		Expiry:    expiry,
		Snapshot:  snap.Clone(),
		CreatedAt: r.cfg.Clock(),
	}
	rec, inserted := r.records.PutIfAbsent(accountID, incoming)
	if inserted {
		return Pending
	}
	r.records.Remove(accountID)

	if !rec.local() {
		r.logger.Warn().Uint32("account_id", accountID).Msg("auth.Registry.RemoteArrival duplicate push, record discarded")
		return Dropped
	}
	if !r.dir.IsLive(rec.Session) {
		r.logger.Debug().
			Uint32("account_id", accountID).
			Str("session", rec.Session.String()).
			Msg("auth.Registry.RemoteArrival waiting session is gone")
		return Dropped
	}
	if rec.Token1 != token1 {
		r.logger.Warn().Uint32("account_id", accountID).Msg("auth.Registry.RemoteArrival token mismatch")
		r.fail(accountID, rec.Session)
		return Failed
	}
	return r.authorize(accountID, rec.Session, incoming)
}

// authorize hands grant's snapshot to the session behind h.
func (r *Registry) authorize(accountID uint32, h sessions.Handle, grant *Record) Outcome {
	charID, err := r.dir.Authorize(h, sessions.Grant{
		Token2:   grant.Token2,
		Expiry:   grant.Expiry,
		Snapshot: grant.Snapshot,
	})
	grant.Snapshot = nil
	if err != nil {
		if errors.Is(err, sessions.ErrStale) {
			return Dropped
		}
		r.logger.Warn().Err(err).Uint32("account_id", accountID).Msg("auth.Registry.authorize rejected by session")
		r.fail(accountID, h)
		return Failed
	}
	r.authority.RequestStatusData(accountID, charID)
	return Authorized
}

func (r *Registry) fail(accountID uint32, h sessions.Handle) {
	charID, ok := r.dir.FailAuthorization(h)
	if !ok {
		return
	}
	r.authority.NotifyOffline(accountID, charID)
}

// Sweep removes records whose age has reached the TTL and returns how many
// were removed. No session or authority callbacks are made.
func (r *Registry) Sweep(now time.Time) int {
	removed := 0
	r.records.ForEach(func(accountID uint32, rec *Record) {
		if now.Sub(rec.CreatedAt) < r.cfg.TTL {
			return
		}
		if _, ok := r.records.Remove(accountID); !ok {
			return
		}
		removed++
		r.logger.Warn().
			Uint32("account_id", accountID).
			Bool("local", rec.local()).
			Dur("age", now.Sub(rec.CreatedAt)).
			Msg("auth.Registry.Sweep pending auth expired")
	})
	if removed > 0 {
		observability.RecordAuthExpired(r.cfg.Node, removed)
	}
	observability.RecordAuthPending(r.cfg.Node, r.records.Size())
	return removed
}

// Close drops every record and returns how many there were.
func (r *Registry) Close() int {
	n := len(r.records.Drain())
	observability.RecordAuthPending(r.cfg.Node, 0)
	return n
}

func (r *Registry) Size() int {
	return r.records.Size()
}

// Get returns a copy of the record for accountID.
func (r *Registry) Get(accountID uint32) (Record, bool) {
	rec, ok := r.records.Get(accountID)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (r *Registry) record(side string, out Outcome) {
	observability.RecordAuthOutcome(r.cfg.Node, side, out.String())
	observability.RecordAuthPending(r.cfg.Node, r.records.Size())
}
