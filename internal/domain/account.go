package domain

import "time"

// Level is an account's access tier.
type Level int

// DefaultLevel is assigned to every new account. Caller-supplied levels are ignored.
const DefaultLevel Level = 0

// Account represents a registered user of the service.
type Account struct {
	ID            string
	UserName      string
	PasswordHash  string
	Email         string
	Phone         string
	Level         Level
	CreateDate    time.Time
	UpdateDate    time.Time
	LastLoginDate time.Time
}
