package models

import "time"

// Role is the authorization role of a user. It is assigned at provisioning
// time and never derived from client-supplied data.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a directory profile. IsOnline is derived on read from LastSeen.
type User struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	AvatarRef string    `db:"avatar_ref" json:"avatar_ref,omitempty"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	Level     string    `db:"level" json:"level,omitempty"`
	Role      Role      `db:"role" json:"role"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
	IsOnline  bool      `db:"-" json:"is_online"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Online reports whether the user was active within window of now.
func (u User) Online(now time.Time, window time.Duration) bool {
	if u.LastSeen.IsZero() {
		return false
	}
	return now.Sub(u.LastSeen) < window
}

// Identity is what the identity provider hands over after authentication.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	AvatarRef   string
	// Role is set only when the provider asserts it.
	Role Role
}

// ProfilePatch carries optional profile edits. ID and Role are never
// writable through a profile edit and are rejected when present.
type ProfilePatch struct {
	Username  *string `json:"username"`
	AvatarRef *string `json:"avatar_ref"`
	Phone     *string `json:"phone"`
	Level     *string `json:"level"`
	ID        *string `json:"id"`
	Role      *string `json:"role"`
}

func (p ProfilePatch) Empty() bool {
	return p.Username == nil && p.AvatarRef == nil && p.Phone == nil && p.Level == nil
}
