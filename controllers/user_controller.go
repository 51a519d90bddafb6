package controllers

import (
	"context"
	"net/http"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/middleware"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/services"
	"github.com/gin-gonic/gin"
)

type UserService interface {
	List(ctx context.Context) ([]models.User, error)
	Get(ctx context.Context, id uint) (*models.User, error)
	Create(ctx context.Context, in services.CreateUserInput) (*models.User, error)
	Update(ctx context.Context, id uint, in services.UpdateUserInput) (*models.User, error)
	Delete(ctx context.Context, id uint) error
}

type UserController struct {
	users UserService
}

func NewUserController(users UserService) *UserController {
	return &UserController{users: users}
}

func (uc *UserController) List(c *gin.Context) {
	users, err := uc.users.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// Get is allowed for the user themself or an admin.
func (uc *UserController) Get(c *gin.Context) {
	id, ok := uc.ownerOrAdmin(c)
	if !ok {
		return
	}
	user, err := uc.users.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (uc *UserController) Create(c *gin.Context) {
	var in services.CreateUserInput
	if !bindJSON(c, &in) {
		return
	}
	user, err := uc.users.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Update lets users edit their own profile; only admins may change roles.
func (uc *UserController) Update(c *gin.Context) {
	id, ok := uc.ownerOrAdmin(c)
	if !ok {
		return
	}
	var in services.UpdateUserInput
	if !bindJSON(c, &in) {
		return
	}
	if in.Role != nil && !middleware.IsAdmin(c) {
		fail(c, apperrors.Forbidden("Only admins can change roles"))
		return
	}
	user, err := uc.users.Update(c.Request.Context(), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (uc *UserController) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := uc.users.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (uc *UserController) ownerOrAdmin(c *gin.Context) (uint, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return 0, false
	}
	caller, _ := middleware.GetUserID(c)
	if caller != id && !middleware.IsAdmin(c) {
		fail(c, apperrors.Forbidden("Access denied"))
		return 0, false
	}
	return id, true
}
