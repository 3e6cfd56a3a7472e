package auth

import "time"

// User is an account that can log in and hold roles.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role groups permissions. Name is unique.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission is an atomic (resource, action) capability named "resource:action".
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRoleAssignment links a user to a role.
type UserRoleAssignment struct {
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Subject is the identity embedded into issued tokens.
type Subject struct {
	UserID int64
	Email  string
	Name   string
}

// SubjectFromUser builds the token subject for a stored user.
func SubjectFromUser(u User) Subject {
	return Subject{UserID: u.ID, Email: u.Email, Name: u.Name}
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
