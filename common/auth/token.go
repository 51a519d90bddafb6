package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims are the identity facts carried by an access token.
type Claims struct {
	UserID uint
	Role   string
}

// TokenService issues and validates HS256 access tokens of the form
// {sub: <user id>, role: <role>, iat, exp}.
type TokenService struct {
	secretKey []byte
	lifetime  time.Duration
	now       func() time.Time
}

func NewTokenService(secret string, lifetime time.Duration) *TokenService {
	return &TokenService{secretKey: []byte(secret), lifetime: lifetime, now: time.Now}
}

func (s *TokenService) Issue(userID uint, role string) (string, error) {
	if len(s.secretKey) == 0 {
		return "", fmt.Errorf("JWT secret not configured")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(s.lifetime).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// Parse validates tokenStr and returns its claims.
func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	if len(s.secretKey) == 0 {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return nil, fmt.Errorf("invalid token subject")
	}
	role, _ := claims["role"].(string)
	return &Claims{UserID: uint(sub), Role: role}, nil
}
