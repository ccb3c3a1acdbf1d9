package domain

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxUsernameLen = 36
	MaxNameLen     = 64
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// User is an operator account allowed to drive or view the board.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// NewUser validates the username and assigns a fresh id.
// An empty display name falls back to the username.
func NewUser(username, name string) (*User, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	u := &User{ID: UserID(uuid.NewString()), Username: username}
	u.SetName(name)
	return u, nil
}

func (u *User) SetName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = u.Username
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		name = string([]rune(name)[:MaxNameLen])
	}
	u.Name = name
}
