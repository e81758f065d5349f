// Package auth resolves the acting user from signed bearer tokens. Identity
// is issued elsewhere; this service only verifies tokens and reads the actor.
package auth

import (
	"errors"
	"time"

	"github.com/erp/fiscal/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrMissingActorID   = errors.New("missing actor id in claims")
)

// Claims carries the actor identity. ActorID falls back to the subject.
type Claims struct {
	jwt.RegisteredClaims
	ActorID string   `json:"actor_id,omitempty"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Actor returns the explicit actor id, or the subject when none is set
func (c *Claims) Actor() string {
	if c.ActorID != "" {
		return c.ActorID
	}
	return c.Subject
}

// JWTService verifies HMAC-signed actor tokens
type JWTService struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		leeway: 30 * time.Second,
	}
}

// GenerateTokenInput contains input for token generation
type GenerateTokenInput struct {
	ActorID string
	Name    string
	Roles   []string
	TTL     time.Duration
}

// GenerateToken signs a token for an actor. Used by tooling and tests.
func (s *JWTService) GenerateToken(input GenerateTokenInput) (string, time.Time, error) {
	if input.ActorID == "" {
		return "", time.Time{}, ErrMissingActorID
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   input.ActorID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ActorID: input.ActorID,
		Name:    input.Name,
		Roles:   input.Roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, time claims and issuer, and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(s.leeway),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Actor() == "" {
		return nil, ErrMissingActorID
	}
	return claims, nil
}
