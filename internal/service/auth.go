package service

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

// AuthService verifies access tokens minted by the hosted auth backend.
// Login and user management live there, not here.
type AuthService struct {
	jwtSecret string
}

// NewAuthService creates a new AuthService.
func NewAuthService(jwtSecret string) *AuthService {
	return &AuthService{jwtSecret: jwtSecret}
}

// VerifyToken validates a JWT token and returns the claims.
func (s *AuthService) VerifyToken(tokenStr string) (*domain.JWTClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, domain.ErrUnauthorized("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized("invalid token claims")
	}

	sub := getClaimString(claims, "sub")
	if sub == "" {
		return nil, domain.ErrUnauthorized("token has no subject")
	}

	// Operator roles are kept in app_metadata; the top-level role only says
	// the caller is signed in.
	role := getClaimString(claims, "role")
	if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if r, ok := meta["role"].(string); ok && r != "" {
			role = r
		}
	}

	return &domain.JWTClaims{
		Sub:   sub,
		Email: getClaimString(claims, "email"),
		Role:  role,
	}, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
