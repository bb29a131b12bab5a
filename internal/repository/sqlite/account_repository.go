package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"account-service/internal/domain"
	"account-service/internal/repository"
)

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	user_name TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	phone TEXT NOT NULL UNIQUE,
	level INTEGER NOT NULL DEFAULT 0,
	create_date DATETIME NOT NULL,
	update_date DATETIME NOT NULL,
	last_login_date DATETIME NOT NULL
);
`

const selectAccount = `
SELECT id, user_name, password_hash, email, phone, level, create_date, update_date, last_login_date
FROM accounts
`

// uniqueColumns maps sqlite constraint names to API field names.
var uniqueColumns = map[string]string{
	"accounts.user_name": repository.FieldUserName,
	"accounts.email":     repository.FieldEmail,
	"accounts.phone":     repository.FieldPhone,
}

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAccountsTable); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	return nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) (string, error) {
	id := uuid.NewString()

	_, err := r.db.ExecContext(ctx, `
INSERT INTO accounts (id, user_name, password_hash, email, phone, level, create_date, update_date, last_login_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		account.UserName,
		account.PasswordHash,
		account.Email,
		account.Phone,
		int(account.Level),
		account.CreateDate.UTC(),
		account.UpdateDate.UTC(),
		account.LastLoginDate.UTC(),
	)
	if err != nil {
		if field, ok := duplicateField(err); ok {
			return "", &repository.DuplicateError{Field: field, Err: err}
		}
		return "", fmt.Errorf("insert account: %w", err)
	}

	account.ID = id
	return id, nil
}

func (r *AccountRepository) GetByUserName(ctx context.Context, userName string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, selectAccount+`WHERE user_name = ?`, userName))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, selectAccount+`WHERE email = ?`, email))
}

func (r *AccountRepository) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, selectAccount+`WHERE phone = ?`, phone))
}

func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE accounts
SET last_login_date = ?, update_date = ?
WHERE id = ?`,
		at.UTC(),
		at.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update last login rows: %w", err)
	}
	if affected == 0 {
		return repository.ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) Close(context.Context) error {
	return r.db.Close()
}

func scanAccount(row interface {
	Scan(dest ...any) error
}) (*domain.Account, error) {
	var (
		account domain.Account
		level   int
	)
	if err := row.Scan(
		&account.ID,
		&account.UserName,
		&account.PasswordHash,
		&account.Email,
		&account.Phone,
		&level,
		&account.CreateDate,
		&account.UpdateDate,
		&account.LastLoginDate,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	account.Level = domain.Level(level)
	return &account, nil
}

// duplicateField extracts the violated column from errors like
// "UNIQUE constraint failed: accounts.email".
func duplicateField(err error) (string, bool) {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return "", false
	}
	for column, field := range uniqueColumns {
		if strings.Contains(msg, column) {
			return field, true
		}
	}
	return "", false
}
