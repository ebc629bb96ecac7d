package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Role is the marketplace role of a user
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// User is keyed by email. It is created or merged by upsert and never hard-deleted.
type User struct {
	Email              string    `json:"email" db:"email"`
	Name               string    `json:"name" db:"name"`
	PhotoURL           string    `json:"photo_url" db:"photo_url"`
	Role               Role      `json:"role" db:"role"`
	SellerVerification bool      `json:"seller_verification" db:"seller_verification"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// UserProfile holds the caller-supplied fields merged on upsert.
// Empty fields leave the stored value untouched.
type UserProfile struct {
	Name     string
	PhotoURL string
	Role     Role
}

// NormalizeEmail lower-cases and trims an email and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", NewValidationError("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", NewValidationError("email", "is malformed")
	}
	return email, nil
}
