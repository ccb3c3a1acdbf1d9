package domain

import "time"

// Member is the identity an authorized connection acts as.
// No transport or lifecycle logic here.
type Member struct {
	User User
	// LoginID names the browser login the connection came from. Several
	// logins may share one User.
	LoginID  string
	IssuedAt time.Time
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user User, loginID string, issuedAt time.Time) *Member {
	return &Member{User: user, LoginID: loginID, IssuedAt: issuedAt}
}
