package domain

import "time"

// IdentityVerification is the latest age-verification outcome reported by the
// identity provider for a user.
type IdentityVerification struct {
	UserID      string     `json:"user_id"`
	AgeVerified bool       `json:"age_verified"`
	Provider    string     `json:"provider"`
	ExternalRef string     `json:"external_ref"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Role is an authorization role carried in access tokens.
type Role string

const (
	RoleUser    Role = "user"
	RoleService Role = "service" // auction engine settling bids
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleService, RoleAdmin:
		return true
	}
	return false
}
