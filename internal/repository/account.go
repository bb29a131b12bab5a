package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"account-service/internal/domain"
)

// Unique account fields, named as they appear in the API.
const (
	FieldUserName = "userName"
	FieldEmail    = "email"
	FieldPhone    = "phone"
)

// ErrAccountNotFound is returned by lookups that match no account.
var ErrAccountNotFound = errors.New("account not found")

// DuplicateError reports a unique constraint violation on Field.
type DuplicateError struct {
	Field string
	Err   error
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("account with this %s already exists", e.Field)
}

func (e *DuplicateError) Unwrap() error { return e.Err }

// AccountRepository defines persistence operations for Account entities.
type AccountRepository interface {
	// Init prepares the backing table or collection, including unique indexes.
	Init(ctx context.Context) error
	// Create stores account, assigns account.ID and returns it. A unique
	// constraint violation yields a *DuplicateError.
	Create(ctx context.Context, account *domain.Account) (string, error)
	GetByUserName(ctx context.Context, userName string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Account, error)
	// UpdateLastLogin sets lastLoginDate and updateDate of the account to at.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	Close(ctx context.Context) error
}
