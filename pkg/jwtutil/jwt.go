package jwtutil

import (
	"time"

	"provisioning-service/pkg/config"

	"github.com/golang-jwt/jwt/v4"
)

var (
	signingKey      = []byte("platformsecretkey")
	expirationHours = 24
)

// Initialize sets the signing key shared with the platform auth service.
func Initialize(cfg *config.JWTConfig) {
	if cfg.SigningKey != "" {
		signingKey = []byte(cfg.SigningKey)
	}
	if cfg.ExpirationHours > 0 {
		expirationHours = cfg.ExpirationHours
	}
}

// OperatorClaims represents the JWT claims for platform operators calling the
// provisioning API. Tokens are issued by the platform auth service; this
// service only validates them.
type OperatorClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"` // operator role, e.g. "platform_admin"
	jwt.RegisteredClaims
}

// GenerateToken creates an operator token. Used by tests and local tooling;
// production tokens come from the auth service with the same shared key.
func GenerateToken(email, role string) (string, error) {
	claims := OperatorClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expirationHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// ValidateToken validates and parses the JWT token
func ValidateToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return signingKey, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
