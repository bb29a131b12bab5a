// Package memory keeps accounts in process memory. It backs the "memory"
// database driver and the service tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"account-service/internal/domain"
	"account-service/internal/repository"
)

type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[string]domain.Account)}
}

func (r *AccountRepository) Init(context.Context) error { return nil }

func (r *AccountRepository) Create(_ context.Context, account *domain.Account) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Each field is checked against every account before the next one so the
	// reported field does not depend on map iteration order.
	uniques := []struct {
		field string
		taken func(domain.Account) bool
	}{
		{repository.FieldUserName, func(a domain.Account) bool { return a.UserName == account.UserName }},
		{repository.FieldEmail, func(a domain.Account) bool { return a.Email == account.Email }},
		{repository.FieldPhone, func(a domain.Account) bool { return a.Phone == account.Phone }},
	}
	for _, u := range uniques {
		for _, existing := range r.accounts {
			if u.taken(existing) {
				return "", &repository.DuplicateError{Field: u.field}
			}
		}
	}

	account.ID = uuid.NewString()
	r.accounts[account.ID] = *account
	return account.ID, nil
}

func (r *AccountRepository) GetByUserName(_ context.Context, userName string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.UserName == userName })
}

func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.Email == email })
}

func (r *AccountRepository) GetByPhone(_ context.Context, phone string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.Phone == phone })
}

func (r *AccountRepository) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	account.LastLoginDate = at
	account.UpdateDate = at
	r.accounts[id] = account
	return nil
}

func (r *AccountRepository) Close(context.Context) error { return nil }

// Len reports the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

func (r *AccountRepository) find(match func(domain.Account) bool) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if match(account) {
			found := account
			return &found, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}
