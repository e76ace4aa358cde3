package models

import (
	"time"
)

type User struct {
	ID        string    `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Blocked   bool      `db:"blocked"    json:"blocked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Identities are loaded alongside the user; at most one per auth provider.
	Identities []Identity `json:"identities"`
}

// Identity binds a User to a specific provider account.
type Identity struct {
	AuthProviderID string `db:"auth_provider_id" json:"auth_provider_id"`
	AuthID         string `db:"auth_id"          json:"auth_id"`
	AuthName       string `db:"auth_name"        json:"auth_name"`
	UserID         string `db:"user_id"          json:"user_id"`
}

// Identity lookup by auth provider; returns nil if the user has no account
// on that provider.
func (u *User) IdentityFor(authProviderID string) *Identity {
	for i := range u.Identities {
		if u.Identities[i].AuthProviderID == authProviderID {
			return &u.Identities[i]
		}
	}
	return nil
}

// Token is a credential scoped to a purpose (e.g. "prebuilds") and
// optionally to a specific clone URL (scope string equals the clone URL).
type Token struct {
	Value      string     `json:"value"`
	Scopes     []string   `json:"scopes"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

func (t Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenEntry is a stored token bound to an identity.
type TokenEntry struct {
	ID             string    `db:"id"               json:"id"`
	AuthProviderID string    `db:"auth_provider_id" json:"auth_provider_id"`
	AuthID         string    `db:"auth_id"          json:"auth_id"`
	Token          Token     `json:"token"`
	CreatedAt      time.Time `db:"created_at"       json:"created_at"`
}
