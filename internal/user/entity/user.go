package entity

import (
	"fmt"
	"time"
)

// Role is stored and serialized as an integer: 0 user, 1 admin.
type Role int

const (
	RoleUser  Role = 0
	RoleAdmin Role = 1
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "user"
}

// State is the account lifecycle state.
type State int

const (
	StateTrashed State = -2
	StateBlocked State = -1
	StatePending State = 0
	StateActive  State = 1
)

func (s State) Valid() bool { return s >= StateTrashed && s <= StateActive }

func (s State) String() string {
	switch s {
	case StateTrashed:
		return "trashed"
	case StateBlocked:
		return "blocked"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// User represents a row in the `users` table.
type User struct {
	ID            int64      `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	FirstName     string     `db:"first_name" json:"firstName"`
	LastName      string     `db:"last_name" json:"lastName"`
	EmailVerified bool       `db:"email_verified" json:"emailVerified"`
	Role          Role       `db:"role" json:"role"`
	State         State      `db:"state" json:"state"`
	TokenVersion  int64      `db:"token_version" json:"-"`
	LastLogin     *time.Time `db:"last_login" json:"lastLogin"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

func (u *User) IsAdmin() bool  { return u.Role == RoleAdmin }
func (u *User) IsActive() bool { return u.State == StateActive }

// Summary returns the projection embedded in assignment and membership listings.
func (u *User) Summary() Summary {
	return Summary{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, Role: u.Role, State: u.State}
}

// Summary is the public projection of a user.
type Summary struct {
	ID        int64  `db:"id" json:"id"`
	Email     string `db:"email" json:"email"`
	FirstName string `db:"first_name" json:"firstName"`
	LastName  string `db:"last_name" json:"lastName"`
	Role      Role   `db:"role" json:"role"`
	State     State  `db:"state" json:"state"`
}

// Filter narrows user listings. Nil fields are not applied.
type Filter struct {
	State  *State
	Role   *Role
	Search string
}

// Stats is the dashboard overview.
type Stats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Pending    int `json:"pending"`
	Blocked    int `json:"blocked"`
	Trashed    int `json:"trashed"`
	Admins     int `json:"admins"`
	Unverified int `json:"unverified"`
}

// Verification is a pending email-verification token.
type Verification struct {
	Token     string    `db:"token"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
}
