package services

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/repository"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID uint, role string) (string, error)
}

type AuthService struct {
	users  repository.UserRepository
	tokens TokenIssuer
	signup *UserService
}

func NewAuthService(users repository.UserRepository, tokens TokenIssuer) *AuthService {
	return &AuthService{users: users, tokens: tokens, signup: NewUserService(users)}
}

// Login checks the credentials and returns a signed access token. Unknown
// email and wrong password produce the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", apperrors.Validation("email is required")
	}
	if strings.TrimSpace(password) == "" {
		return "", apperrors.Validation("password is required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.Unauthorized("Invalid credentials")
		}
		return "", apperrors.FromDB(err, "User not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", apperrors.Unauthorized("Invalid credentials")
	}

	token, err := s.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return "", apperrors.Internal("failed to issue token", err)
	}
	return token, nil
}

// Register creates a regular user account. The role is always user.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	return s.signup.Create(ctx, CreateUserInput{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     string(models.RoleUser),
	})
}
