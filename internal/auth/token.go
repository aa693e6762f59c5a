// ABOUTME: JWT token verification for authenticating API requests
// ABOUTME: Uses HS256 signing with configurable secret and tenant/scope claims

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Entity is the authenticated identity carried by a verified token.
type Entity struct {
	TenantID string
	Email    string
	Scopes   []string
}

// HasScope reports whether the entity was granted the given scope.
func (e *Entity) HasScope(scope string) bool {
	for _, s := range e.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Entity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the authenticated entity.
// Required claims: tenant_id, email. Optional: scopes (list of strings).
func (v *JWTVerifier) Verify(tokenString string) (*Entity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	tenantID, ok := claims["tenant_id"].(string)
	if !ok || tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}

	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingClaim)
	}

	entity := &Entity{
		TenantID: tenantID,
		Email:    email,
	}

	if rawScopes, ok := claims["scopes"].([]interface{}); ok {
		for _, raw := range rawScopes {
			if s, ok := raw.(string); ok {
				entity.Scopes = append(entity.Scopes, s)
			}
		}
	}

	return entity, nil
}

// Generate creates a new JWT token for the given entity with expiration
func (v *JWTVerifier) Generate(entity *Entity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"tenant_id": entity.TenantID,
		"email":     entity.Email,
		"iat":       now.Unix(),
		"exp":       now.Add(expiresIn).Unix(),
	}
	if len(entity.Scopes) > 0 {
		claims["scopes"] = entity.Scopes
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
