package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	RolePlayer = "player"
	RoleAdmin  = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is what a verified token asserts about its bearer.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// Mint signs a token for the identity. Game tokens normally come from the
// operator's own issuer; this is the built-in issuer for the token-mint
// endpoint and the admin login.
func Mint(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      id.UserID,
		"username": id.Username,
		"role":     id.Role,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse verifies an HS256 token and extracts the identity. Expiry is
// enforced by the jwt library's claim validation.
func Parse(secret, tokenString string) (Identity, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{Role: RolePlayer}
	if sub, ok := claims["sub"].(string); ok {
		id.UserID = sub
	}
	if id.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	if name, ok := claims["username"].(string); ok {
		id.Username = name
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		id.Role = role
	}
	return id, nil
}
