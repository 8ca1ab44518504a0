package domain

import "time"

// Role determines which parts of the API a user may access.
type Role string

const (
	// RoleSubmitter uploads proposals and sees only their own.
	RoleSubmitter Role = "user"
	// RoleReviewer is the reviewing administrator and sees every proposal.
	RoleReviewer Role = "naccr"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSubmitter || r == RoleReviewer
}

// User represents an account that can sign in.
type User struct {
	ID           string    `json:"id" db:"id" bson:"_id" yaml:"id"`
	Name         string    `json:"name" db:"name" bson:"name" yaml:"name"`
	Email        string    `json:"email" db:"email" bson:"email" yaml:"email"`
	Role         Role      `json:"role" db:"role" bson:"role" yaml:"role"`
	PasswordHash string    `json:"-" db:"password_hash" bson:"password_hash" yaml:"-"`
	CreatedAt    time.Time `json:"created_at" db:"created_at" bson:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at" bson:"updated_at" yaml:"-"`
}
