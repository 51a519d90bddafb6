package controllers

import (
	"context"
	"net/http"

	"github.com/Reyuuh/eshop-soulcaller-backend/middleware"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/gin-gonic/gin"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, name, email, password string) (*models.User, error)
}

type AuthController struct {
	auth AuthService
}

func NewAuthController(auth AuthService) *AuthController {
	return &AuthController{auth: auth}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (ac *AuthController) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	token, err := ac.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (ac *AuthController) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := ac.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Dashboard is the admin landing endpoint.
func (ac *AuthController) Dashboard(c *gin.Context) {
	uid, _ := middleware.GetUserID(c)
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome, admin!",
		"userId":  uid,
		"role":    middleware.GetRole(c),
	})
}
