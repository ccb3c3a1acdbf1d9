package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/domain"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExpired = errors.New("session expired")
)

const (
	StageConnect = "connect"
	StageMessage = "message"
)

// Credentials is what a connecting client presents: the username, the
// login nonce and the issue time stored in its session cookie.
type Credentials struct {
	Username string
	LoginID  string
	IssuedAt time.Time
}

// Revocation tells listeners which live sessions to drop. Exactly one of
// LoginID and Username is set.
type Revocation struct {
	LoginID  string
	Username string
}

// Decision is the outcome of Gate.Authorize.
type Decision struct {
	Accepted bool
	Identity *domain.Member
	Reason   error
}

// UserDirectory resolves a username to a live account.
type UserDirectory interface {
	Lookup(username string) (domain.User, bool)
}

// Gate authorizes connections and re-validates their identity on every
// message. A credential is valid while its account exists and it is younger
// than maxAge. Its login must not have been revoked, and it must have been
// issued after the user's last revoke-all.
type Gate struct {
	dir     UserDirectory
	maxAge  time.Duration
	now     func() time.Time
	metrics *Metrics

	mu           sync.RWMutex
	revokedLogin map[string]time.Time
	revokedUser  map[string]time.Time
	listeners    []func(Revocation)
}

type GateOption func(*Gate)

// WithMaxAge sets the credential lifetime. Zero disables expiry.
func WithMaxAge(d time.Duration) GateOption {
	return func(g *Gate) { g.maxAge = d }
}

func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

func NewGate(dir UserDirectory, metrics *Metrics, opts ...GateOption) *Gate {
	g := &Gate{
		dir:     dir,
		now:     time.Now,
		metrics: metrics,
		revokedLogin: make(map[string]time.Time),
		revokedUser:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Authorize(c Credentials) Decision {
	if c.Username == "" || c.LoginID == "" {
		return g.reject(StageConnect, c.Username, ErrUnauthorized)
	}
	user, ok := g.dir.Lookup(c.Username)
	if !ok {
		return g.reject(StageConnect, c.Username, ErrUnauthorized)
	}
	id := domain.NewMember(user, c.LoginID, c.IssuedAt)
	if err := g.check(id); err != nil {
		return g.reject(StageConnect, c.Username, err)
	}
	return Decision{Accepted: true, Identity: id}
}

// AuthorizeMessage re-validates an accepted identity. Any accepted identity
// may send any message type.
func (g *Gate) AuthorizeMessage(id *domain.Member) bool {
	if id == nil {
		g.reject(StageMessage, "", ErrUnauthorized)
		return false
	}
	err := g.check(id)
	if err == nil {
		_, ok := g.dir.Lookup(id.User.Username)
		if ok {
			return true
		}
		err = ErrUnauthorized
	}
	g.reject(StageMessage, id.User.Username, err)
	return false
}

func (g *Gate) check(id *domain.Member) error {
	now := g.now()
	if g.maxAge > 0 && now.Sub(id.IssuedAt) > g.maxAge {
		return ErrSessionExpired
	}
	g.mu.RLock()
	_, loginRevoked := g.revokedLogin[id.LoginID]
	at, userRevoked := g.revokedUser[id.User.Username]
	g.mu.RUnlock()
	if loginRevoked || (userRevoked && !id.IssuedAt.After(at)) {
		return ErrUnauthorized
	}
	return nil
}

// Revoke invalidates one login and notifies listeners so they can drop the
// sockets opened with it. Other logins of the same user are untouched.
func (g *Gate) Revoke(loginID string) {
	if loginID == "" {
		return
	}
	g.mu.Lock()
	now := g.now()
	g.pruneLocked(now)
	g.revokedLogin[loginID] = now
	listeners := append([]func(Revocation){}, g.listeners...)
	g.mu.Unlock()

	log.Info().Str("module", "app.gate").Str("login", loginID).Msg("login revoked")
	for _, fn := range listeners {
		fn(Revocation{LoginID: loginID})
	}
}

// RevokeUser invalidates every credential issued to user up to now.
func (g *Gate) RevokeUser(user string) {
	g.mu.Lock()
	g.revokedUser[user] = g.now()
	listeners := append([]func(Revocation){}, g.listeners...)
	g.mu.Unlock()

	log.Info().Str("module", "app.gate").Str("user", user).Msg("all logins revoked")
	for _, fn := range listeners {
		fn(Revocation{Username: user})
	}
}

// pruneLocked forgets revoked logins whose credentials have expired anyway.
func (g *Gate) pruneLocked(now time.Time) {
	if g.maxAge <= 0 {
		return
	}
	for id, at := range g.revokedLogin {
		if now.Sub(at) > g.maxAge {
			delete(g.revokedLogin, id)
		}
	}
}

func (g *Gate) OnRevoke(fn func(Revocation)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Now is the clock credentials should be stamped with.
func (g *Gate) Now() time.Time { return g.now() }

func (g *Gate) reject(stage, user string, reason error) Decision {
	log.Warn().Str("module", "app.gate").Str("stage", stage).Str("user", user).Err(reason).Msg("authorization failed")
	if g.metrics != nil {
		g.metrics.GateRejections.WithLabelValues(stage).Inc()
	}
	return Decision{Reason: reason}
}
