package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"rashoti/backend/internal/auth"
	"rashoti/backend/internal/crypto"
	"rashoti/backend/internal/model"
	"rashoti/backend/internal/repository"
)

// Directory is the persistence surface the service orchestrates over.
// *repository.Store is the production implementation.
type Directory interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	CreateUserWithProfile(ctx context.Context, user model.User) error
}

type AuthService struct {
	directory Directory
	secret    string
	issuer    string
	tokenTTL  time.Duration

	// Compared against on unknown-email logins so that path costs the
	// same as a wrong-password login.
	decoyHash string
}

func NewAuthService(directory Directory, secret, issuer string, tokenTTL time.Duration) (*AuthService, error) {
	decoy, err := crypto.HashPassword(uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &AuthService{
		directory: directory,
		secret:    secret,
		issuer:    issuer,
		tokenTTL:  tokenTTL,
		decoyHash: decoy,
	}, nil
}

type RegisterParams struct {
	Email    string
	Password string
	Name     string
	Role     string
}

func (s *AuthService) Register(ctx context.Context, params RegisterParams) (*model.User, error) {
	email := strings.TrimSpace(strings.ToLower(params.Email))
	role := strings.TrimSpace(strings.ToLower(params.Role))
	if !model.ValidRole(role) {
		return nil, ErrInvalidRole
	}

	existing, err := s.directory.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := crypto.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         params.Name,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.directory.CreateUserWithProfile(ctx, user); err != nil {
		// The unique constraint wins any race the existence check lost.
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		if errors.Is(err, repository.ErrUnknownRole) {
			return nil, ErrInvalidRole
		}
		return nil, err
	}
	return &user, nil
}

// Login deliberately reports an unknown email and a wrong password with the
// same error, and burns a hash comparison on the unknown-email path.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.directory.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		_ = crypto.CheckPassword(s.decoyHash, password)
		return "", nil, ErrInvalidCredentials
	}

	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.NewAccessToken(s.secret, s.issuer, s.tokenTTL, auth.Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: user.ID,
		},
	})
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *AuthService) GetByID(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.directory.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
