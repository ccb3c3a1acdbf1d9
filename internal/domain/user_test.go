package domain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("  admin ", "")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)
	assert.Equal(t, "admin", u.Name)
	assert.NotEmpty(t, u.ID)

	_, err = NewUser(" ", "x")
	assert.ErrorIs(t, err, ErrUsernameEmpty)
	_, err = NewUser(strings.Repeat("a", MaxUsernameLen+1), "x")
	assert.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestSetName_TruncatesOnRuneBoundary(t *testing.T) {
	u := &User{Username: "kiosk"}
	u.SetName("a" + strings.Repeat("è", MaxNameLen))

	assert.True(t, utf8.ValidString(u.Name))
	assert.Equal(t, MaxNameLen, utf8.RuneCountInString(u.Name))
	assert.Equal(t, "a"+strings.Repeat("è", MaxNameLen-1), u.Name)
}
