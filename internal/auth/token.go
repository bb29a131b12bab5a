package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails signature or claim checks.
var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer signs bearer tokens for an account.
type TokenIssuer interface {
	Issue(accountID string, ttl time.Duration) (string, error)
}

// TokenUser is the "user" object carried in the token payload.
type TokenUser struct {
	ID string `json:"id"`
}

// Claims is the token payload: {"user":{"id":...},"iat":...,"exp":...}.
type Claims struct {
	User TokenUser `json:"user"`
	jwt.RegisteredClaims
}

// JWTIssuer issues HS256 tokens with a process-wide secret.
type JWTIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewJWTIssuer(secret string) (*JWTIssuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must be provided")
	}
	return &JWTIssuer{secret: []byte(secret), now: time.Now}, nil
}

func (i *JWTIssuer) Issue(accountID string, ttl time.Duration) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		User: TokenUser{ID: accountID},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenString and returns its claims.
func (i *JWTIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
