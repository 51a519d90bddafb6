package services

import (
	"context"
	"strings"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/repository"
	"golang.org/x/crypto/bcrypt"
)

type CreateUserInput struct {
	Name     string `json:"name"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,role"`
}

type UpdateUserInput struct {
	Name     *string `json:"name"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password *string `json:"password"`
	Role     *string `json:"role" validate:"omitempty,role"`
}

type UserService struct {
	users repository.UserRepository
}

func NewUserService(users repository.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	users, err := s.users.FindAll(ctx)
	if err != nil {
		return nil, apperrors.FromDB(err, "User not found")
	}
	return users, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.FromDB(err, "User not found")
	}
	return user, nil
}

func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" {
		return nil, apperrors.Validation("email is required")
	}
	if strings.TrimSpace(in.Password) == "" {
		return nil, apperrors.Validation("password is required")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	role, err := models.ParseRole(in.Role)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Name:     strings.TrimSpace(in.Name),
		Email:    in.Email,
		Password: hash,
		Role:     role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		appErr := apperrors.FromDB(err, "User not found")
		if appErr.Kind == apperrors.KindConstraintViolation {
			return nil, apperrors.Conflict("email already exists")
		}
		return nil, appErr
	}
	return user, nil
}

func (s *UserService) Update(ctx context.Context, id uint, in UpdateUserInput) (*models.User, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Name != nil {
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if email == "" {
			return nil, apperrors.Validation("email must be a non-empty string")
		}
		updates["email"] = email
	}
	if in.Password != nil {
		if strings.TrimSpace(*in.Password) == "" {
			return nil, apperrors.Validation("password must be a non-empty string")
		}
		hash, err := hashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		updates["password"] = hash
	}
	if in.Role != nil {
		role, err := models.ParseRole(*in.Role)
		if err != nil {
			return nil, apperrors.Validation(err.Error())
		}
		updates["role"] = role
	}

	if len(updates) > 0 {
		if err := s.users.Update(ctx, id, updates); err != nil {
			return nil, apperrors.FromDB(err, "User not found")
		}
	}
	return s.Get(ctx, id)
}

func (s *UserService) Delete(ctx context.Context, id uint) error {
	if err := s.users.Delete(ctx, id); err != nil {
		if apperrors.IsForeignKeyViolation(err) {
			return apperrors.ConstraintViolation("User has orders and cannot be deleted", err)
		}
		return apperrors.FromDB(err, "User not found")
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Internal("failed to hash password", err)
	}
	return string(hash), nil
}
