package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/database/models"
)

// Authenticator is the account surface the HTTP handlers use.
type Authenticator interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResponse, error)
	Login(ctx context.Context, input LoginInput) (*AuthResponse, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenIssuer signs tokens for users that registered or logged in.
type TokenIssuer interface {
	GenerateToken(userID uuid.UUID, email, role string) (string, error)
}

// TokenValidator turns a bearer token into the claims that carry the
// operator's role and audit actor.
type TokenValidator interface {
	ValidateToken(token string) (*Claims, error)
}

var (
	_ Authenticator  = (*Service)(nil)
	_ TokenIssuer    = (*JWTService)(nil)
	_ TokenValidator = (*JWTService)(nil)
)
