package domain

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole enumerates supported roles.
type UserRole string

const (
	UserRoleDonor     UserRole = "donor"
	UserRoleVolunteer UserRole = "volunteer"
	UserRoleAdmin     UserRole = "admin"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleDonor, UserRoleVolunteer, UserRoleAdmin:
		return true
	}
	return false
}

// UserStatus enumerates account states.
type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusBlocked UserStatus = "blocked"
)

// User represents an account as the backend reports it.
type User struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Role       UserRole   `json:"role"`
	Status     UserStatus `json:"status"`
	BloodGroup string     `json:"bloodGroup,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	District   string     `json:"district,omitempty"`
	Upazila    string     `json:"upazila,omitempty"`
	Avatar     string     `json:"avatar,omitempty"`
	CreatedAt  time.Time  `json:"createdAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt,omitempty"`
}

// IsActive reports whether the account is allowed to act.
func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// Key implements the collection record contract.
func (u User) Key() string { return u.ID }

// StatusKey implements the collection record contract.
func (u User) StatusKey() string { return string(u.Status) }

// Value exposes filterable and sortable fields by their wire name.
func (u User) Value(field string) any {
	switch field {
	case "id":
		return u.ID
	case "email":
		return u.Email
	case "name":
		return u.Name
	case "role":
		return string(u.Role)
	case "status":
		return string(u.Status)
	case "bloodGroup":
		return u.BloodGroup
	case "district":
		return u.District
	case "upazila":
		return u.Upazila
	case "createdAt":
		return u.CreatedAt
	case "updatedAt":
		return u.UpdatedAt
	}
	return nil
}

// SearchText is matched against free-text search.
func (u User) SearchText() string {
	return strings.Join([]string{u.Name, u.Email, u.District, u.Upazila, u.BloodGroup}, " ")
}

// Profile carries registration input and profile patches. Empty fields are
// left untouched by the backend on update.
type Profile struct {
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
	Password        string `json:"password,omitempty"`
	ConfirmPassword string `json:"-"`
	BloodGroup      string `json:"bloodGroup,omitempty"`
	Phone           string `json:"phone,omitempty"`
	District        string `json:"district,omitempty"`
	Upazila         string `json:"upazila,omitempty"`
	Avatar          string `json:"avatar,omitempty"`
}

// Claims is the payload carried by the credential token.
type Claims struct {
	UserID     string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name,omitempty"`
	Role       UserRole   `json:"role"`
	Status     UserStatus `json:"status"`
	BloodGroup string     `json:"bloodGroup,omitempty"`
	jwt.RegisteredClaims
}

// User projects the identity embedded in the claims.
func (c Claims) User() User {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return User{
		ID:         id,
		Email:      c.Email,
		Name:       c.Name,
		Role:       c.Role,
		Status:     c.Status,
		BloodGroup: c.BloodGroup,
	}
}

// Expired reports whether the token expiry has passed at now. Tokens without
// an expiry are treated as expired.
func (c Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !now.Before(c.ExpiresAt.Time)
}

// UserActivity is one entry of a user's audit trail.
type UserActivity struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserPatch is an admin update to another account. Empty fields are left
// untouched.
type UserPatch struct {
	Role       UserRole   `json:"role,omitempty"`
	Status     UserStatus `json:"status,omitempty"`
	Name       string     `json:"name,omitempty"`
	BloodGroup string     `json:"bloodGroup,omitempty"`
	District   string     `json:"district,omitempty"`
	Upazila    string     `json:"upazila,omitempty"`
}
