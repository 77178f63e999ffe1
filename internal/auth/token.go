package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

const Issuer = "argus"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("role not permitted")
)

// Claims are the JWT claims Argus issues and accepts.
type Claims struct {
	jwt.RegisteredClaims
	Role types.Role `json:"role"`
}

// TokenIssuer signs HS256 tokens with a shared secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

func (i *TokenIssuer) Issue(subject string, role types.Role) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("Issue: empty subject")
	}
	if !role.Valid() {
		return "", fmt.Errorf("Issue: invalid role %q", role)
	}
	if len(i.secret) == 0 {
		return "", fmt.Errorf("Issue: signing secret not configured")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role: role,
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Validator verifies tokens produced by TokenIssuer. A Validator with no
// secret rejects everything.
type Validator struct {
	secret []byte
}

func NewValidator(secret []byte) *Validator {
	return &Validator{secret: secret}
}

// Validate parses tokenStr and returns the caller it names. Every failure
// wraps ErrUnauthenticated.
func (v *Validator) Validate(tokenStr string) (types.Caller, error) {
	if v == nil || len(v.secret) == 0 {
		return types.Caller{}, fmt.Errorf("%w: authentication not configured", ErrUnauthenticated)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return types.Caller{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return types.Caller{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return types.Caller{}, fmt.Errorf("%w: token subject is required", ErrUnauthenticated)
	}
	if !claims.Role.Valid() {
		return types.Caller{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, claims.Role)
	}

	return types.Caller{ID: claims.Subject, Role: claims.Role}, nil
}
