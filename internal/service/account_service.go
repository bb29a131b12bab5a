package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"account-service/internal/auth"
	"account-service/internal/domain"
	"account-service/internal/repository"
)

var (
	// ErrUserNameTaken is returned when signing up with a registered user name.
	ErrUserNameTaken = errors.New("username already registered")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPhoneTaken is returned when signing up with a registered phone number.
	ErrPhoneTaken = errors.New("phone already registered")
	// ErrAccountNotFound is returned when logging in with an unknown user name.
	ErrAccountNotFound = errors.New("user does not exist")
	// ErrIncorrectPassword is returned when the password does not match the stored hash.
	ErrIncorrectPassword = errors.New("incorrect password")
	// ErrInvalidValidityTime is returned when validityTime is not a number of seconds.
	ErrInvalidValidityTime = errors.New("invalid validity time format")
)

var validityTimePattern = regexp.MustCompile(`^[0-9]+$`)

// SignupInput carries the validated signup request. Level is not part of it:
// every account starts at domain.DefaultLevel.
type SignupInput struct {
	UserName      string
	Password      string
	Email         string
	Phone         string
	CreateDate    *time.Time
	UpdateDate    *time.Time
	LastLoginDate *time.Time
}

type SignupResult struct {
	Account *domain.Account
	Token   string
}

type LoginInput struct {
	UserName     string
	Password     string
	ValidityTime string
}

type LoginResult struct {
	UserName     string
	LoginTimeGap int64
	Token        string
}

// AccountService describes account lifecycle operations.
type AccountService interface {
	Signup(ctx context.Context, in SignupInput) (*SignupResult, error)
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
}

type accountService struct {
	accounts  repository.AccountRepository
	hasher    auth.PasswordHasher
	tokens    auth.TokenIssuer
	signupTTL time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewAccountService(
	accounts repository.AccountRepository,
	hasher auth.PasswordHasher,
	tokens auth.TokenIssuer,
	signupTTL time.Duration,
	logger logrus.FieldLogger,
) AccountService {
	return &accountService{
		accounts:  accounts,
		hasher:    hasher,
		tokens:    tokens,
		signupTTL: signupTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Signup registers a new account and returns a token for it.
//
// The lookups below only give a friendly early answer. Two concurrent signups
// can both pass them; the store's unique indexes reject the second insert and
// that rejection is mapped to the same conflict errors.
func (s *accountService) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	lookups := []struct {
		get   func(context.Context, string) (*domain.Account, error)
		value string
		field string
	}{
		{s.accounts.GetByUserName, in.UserName, repository.FieldUserName},
		{s.accounts.GetByEmail, in.Email, repository.FieldEmail},
		{s.accounts.GetByPhone, in.Phone, repository.FieldPhone},
	}
	for _, l := range lookups {
		_, err := l.get(ctx, l.value)
		if err == nil {
			return nil, conflictError(l.field)
		}
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("lookup %s: %w", l.field, err)
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := &domain.Account{
		UserName:      in.UserName,
		PasswordHash:  hash,
		Email:         in.Email,
		Phone:         in.Phone,
		Level:         domain.DefaultLevel,
		CreateDate:    timeOr(in.CreateDate, now),
		UpdateDate:    timeOr(in.UpdateDate, now),
		LastLoginDate: timeOr(in.LastLoginDate, now),
	}

	if _, err := s.accounts.Create(ctx, account); err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			s.logger.WithField("field", dup.Field).Warn("signup lost uniqueness race")
			return nil, conflictError(dup.Field)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	token, err := s.tokens.Issue(account.ID, s.signupTTL)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"user_name":  account.UserName,
	}).Info("account signed up")

	return &SignupResult{Account: account, Token: token}, nil
}

// Login verifies credentials, records the login time and returns a token
// valid for in.ValidityTime seconds.
func (s *accountService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	account, err := s.accounts.GetByUserName(ctx, in.UserName)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	ok, err := s.hasher.Compare(account.PasswordHash, in.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIncorrectPassword
	}

	ttl, err := parseValidityTime(in.ValidityTime)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	gap := loginTimeGap(account.LastLoginDate, now)
	if err := s.accounts.UpdateLastLogin(ctx, account.ID, now); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	token, err := s.tokens.Issue(account.ID, ttl)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id":     account.ID,
		"user_name":      account.UserName,
		"login_time_gap": gap,
	}).Info("account logged in")

	return &LoginResult{UserName: account.UserName, LoginTimeGap: gap, Token: token}, nil
}

func conflictError(field string) error {
	switch field {
	case repository.FieldEmail:
		return ErrEmailTaken
	case repository.FieldPhone:
		return ErrPhoneTaken
	default:
		return ErrUserNameTaken
	}
}

// parseValidityTime accepts a non-negative whole number of seconds.
func parseValidityTime(v string) (time.Duration, error) {
	if !validityTimePattern.MatchString(v) {
		return 0, ErrInvalidValidityTime
	}
	seconds, err := strconv.ParseInt(v, 10, 64)
	if err != nil || seconds > math.MaxInt64/int64(time.Second) {
		return 0, ErrInvalidValidityTime
	}
	return time.Duration(seconds) * time.Second, nil
}

// loginTimeGap is the number of whole seconds from last to now. An account
// that never logged in, or whose last login lies ahead of now, has a gap of zero.
func loginTimeGap(last, now time.Time) int64 {
	if last.IsZero() || now.Before(last) {
		return 0
	}
	return int64(now.Sub(last) / time.Second)
}

// timeOr returns the supplied time, or fallback when it is missing or later
// than fallback. Callers cannot date an account into the future.
func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil || t.IsZero() || t.After(fallback) {
		return fallback
	}
	return t.UTC()
}
