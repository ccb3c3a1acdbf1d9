// Package auth verifies operator credentials and throttles repeated failures.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/busboard/internal/domain"
)

const (
	DefaultMaxAttempts   = 5
	DefaultLockoutWindow = 10 * time.Minute
	attemptTableSize     = 4096
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLockedOut          = errors.New("too many failed attempts")
	ErrDuplicateUser      = errors.New("duplicate username")
)

// LockoutError is returned while a username is locked.
type LockoutError struct {
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%v: retry in %s", ErrLockedOut, e.Remaining.Round(time.Second))
}

func (e *LockoutError) Unwrap() error { return ErrLockedOut }

// AttemptError is returned for a wrong password and tells how many tries
// are left before the username locks.
type AttemptError struct {
	Left int
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%v: %d attempts left", ErrInvalidCredentials, e.Left)
}

func (e *AttemptError) Unwrap() error { return ErrInvalidCredentials }

// Credential is one configured account.
type Credential struct {
	Username     string `mapstructure:"username"`
	Name         string `mapstructure:"name"`
	PasswordHash string `mapstructure:"password_hash"`
}

type account struct {
	user domain.User
	hash []byte
}

type attempt struct {
	count int
	last  time.Time
}

// Provider checks passwords against bcrypt hashes and locks a username for
// a window after too many consecutive failures.
type Provider struct {
	accounts    map[string]account
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	attempts *lru.Cache[string, attempt]
}

type Option func(*Provider)

func WithMaxAttempts(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithLockoutWindow(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func NewProvider(creds []Credential, opts ...Option) (*Provider, error) {
	attempts, err := lru.New[string, attempt](attemptTableSize)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		accounts:    make(map[string]account, len(creds)),
		maxAttempts: DefaultMaxAttempts,
		window:      DefaultLockoutWindow,
		now:         time.Now,
		attempts:    attempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, c := range creds {
		u, err := domain.NewUser(c.Username, c.Name)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", c.Username, err)
		}
		if _, dup := p.accounts[u.Username]; dup {
			return nil, fmt.Errorf("user %q: %w", u.Username, ErrDuplicateUser)
		}
		p.accounts[u.Username] = account{user: *u, hash: []byte(c.PasswordHash)}
	}
	log.Info().Str("module", "auth").Int("users", len(p.accounts)).Int("max_attempts", p.maxAttempts).Dur("lockout_window", p.window).Msg("auth provider ready")
	return p, nil
}

// Verify returns the user for a correct password. While a username is
// locked even the correct password is refused with a *LockoutError.
func (p *Provider) Verify(username, password string) (domain.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if a, ok := p.attempts.Get(username); ok && a.count >= p.maxAttempts {
		until := a.last.Add(p.window)
		if now.Before(until) {
			log.Warn().Str("module", "auth").Str("user", username).Msg("login refused: locked out")
			return domain.User{}, &LockoutError{Remaining: until.Sub(now)}
		}
		p.attempts.Remove(username)
	}

	acc, ok := p.accounts[username]
	if ok && bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) == nil {
		p.attempts.Remove(username)
		log.Info().Str("module", "auth").Str("user", username).Msg("login ok")
		return acc.user, nil
	}

	a, _ := p.attempts.Get(username)
	a.count++
	a.last = now
	p.attempts.Add(username, a)

	left := p.maxAttempts - a.count
	log.Warn().Str("module", "auth").Str("user", username).Int("attempts_left", left).Msg("login failed")
	if left <= 0 {
		return domain.User{}, &LockoutError{Remaining: p.window}
	}
	return domain.User{}, &AttemptError{Left: left}
}

// Lookup reports whether username is still a configured account.
func (p *Provider) Lookup(username string) (domain.User, bool) {
	acc, ok := p.accounts[username]
	return acc.user, ok
}

// HashPassword produces a hash suitable for Credential.PasswordHash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
