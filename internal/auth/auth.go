// Package auth turns bearer tokens into engine callers. Issuing tokens to
// end users is the identity provider's job; the issuer here exists for
// development and operator tooling.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/transport-fees/internal"
)

// Claims represents JWT token claims
type Claims struct {
	UserID      string        `json:"user_id"`
	Role        internal.Role `json:"role"`
	StudentRefs []string      `json:"student_refs,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Caller() internal.Caller {
	return internal.Caller{UserID: c.UserID, Role: c.Role, StudentRefs: c.StudentRefs}
}

// GuardianResolver finds the students a guardian is responsible for when the
// token does not list them.
type GuardianResolver interface {
	GuardianStudents(ctx context.Context, guardianID string) ([]string, error)
}

type JWTTokenGenerator struct {
	Secret    []byte
	Issuer    string
	AccessTTL time.Duration
	// Leeway tolerates clock skew against the identity provider.
	Leeway time.Duration
}

// NewJWTTokenGenerator creates a HS256 token generator
func NewJWTTokenGenerator(secret, issuer string, ttl time.Duration) *JWTTokenGenerator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTTokenGenerator{Secret: []byte(secret), Issuer: issuer, AccessTTL: ttl}
}

// GenerateAccessToken signs a token for caller
func (j *JWTTokenGenerator) GenerateAccessToken(caller internal.Caller) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      caller.UserID,
		Role:        caller.Role,
		StudentRefs: caller.StudentRefs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.Issuer,
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.AccessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Secret)
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTTokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}
	if j.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(j.Leeway))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken.WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}
