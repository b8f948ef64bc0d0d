package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is keyed by Email. Accounts are never deleted; a locked account
// stays inactive until an operator re-enables it out of band.
type Account struct {
	Email               string
	Credential          []byte
	Role                Role
	Active              bool
	FailedAttempts      int
	LastLoginAt         *time.Time
	CurrentSessionToken string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Session is looked up by Token. ID is a log-safe handle for the same record.
type Session struct {
	ID             string
	Token          string
	Email          string
	Role           Role
	Remembered     bool
	CreatedAt      time.Time
	LastActivityAt time.Time
}
