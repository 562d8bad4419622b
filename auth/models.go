package auth

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAgency Role = "agency"
	RoleAdmin  Role = "admin"
	RoleNotary Role = "notary"
)

// Actor is the identity claim every lifecycle command carries. The engines
// trust it; verification happens here, authentication happens upstream.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// HasAnyRole reports whether the actor holds one of the given roles.
func (a Actor) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// User is the domain representation of a platform account.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	AgencyID     *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor projects the user into the claim shape the engines consume.
func (u User) Actor() Actor {
	return Actor{ID: u.ID, Name: u.FullName, Role: u.Role}
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
