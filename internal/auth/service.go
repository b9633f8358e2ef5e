package auth

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/transport-fees/internal"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Service is the main auth service with dependencies
type Service struct {
	tokens    TokenValidator
	guardians GuardianResolver
	logger    *slog.Logger
}

func NewService(tokens TokenValidator, guardians GuardianResolver, logger *slog.Logger) *Service {
	return &Service{tokens: tokens, guardians: guardians, logger: logger}
}

// Authenticate verifies the token and returns the caller it names.
func (s *Service) Authenticate(ctx context.Context, token string) (internal.Caller, error) {
	if token == "" {
		return internal.Caller{}, internal.ErrInvalidToken
	}

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return internal.Caller{}, err
	}
	if claims.UserID == "" {
		return internal.Caller{}, internal.ErrInvalidToken
	}

	caller := claims.Caller()
	switch caller.Role {
	case internal.RoleAdmin:
	case internal.RoleGuardian:
		if len(caller.StudentRefs) == 0 && s.guardians != nil {
			refs, err := s.guardians.GuardianStudents(ctx, caller.UserID)
			if err != nil {
				s.logger.Error("failed to resolve guardian students", "user_id", caller.UserID, "error", err)
				return internal.Caller{}, internal.ErrDirectoryUnavailable.WithCause(err)
			}
			caller.StudentRefs = refs
		}
	default:
		// System callers only exist inside the process.
		s.logger.Warn("token carries an unknown role", "user_id", caller.UserID, "role", caller.Role)
		return internal.Caller{}, internal.ErrInvalidToken
	}
	return caller, nil
}
