package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/fiscal/internal/infrastructure/auth"
	"github.com/erp/fiscal/internal/infrastructure/logger"
	"github.com/erp/fiscal/internal/interfaces/http/dto"
)

// Actor context keys
const (
	ActorIDKey     = "actor_id"
	JWTClaimsKey   = "jwt_claims"
	ActorIDHeader  = "X-Actor-ID"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
	maxActorLength = 64
)

// ActorAuthConfig configures how the acting user is resolved
type ActorAuthConfig struct {
	JWTService *auth.JWTService
	// Required rejects requests without a valid bearer token
	Required bool
	// AllowHeader accepts X-Actor-ID when no token is sent and Required is off
	AllowHeader bool
	// SkipPaths are served without any actor resolution
	SkipPaths []string
	Logger    *zap.Logger
}

// ActorAuth resolves the actor id for every request. A bearer token that
// fails validation is always rejected, even when tokens are optional.
func ActorAuth(cfg ActorAuthConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		for _, p := range cfg.SkipPaths {
			if c.Request.URL.Path == p {
				c.Next()
				return
			}
		}

		header := c.GetHeader(AuthHeaderKey)
		switch {
		case header != "":
			token, ok := strings.CutPrefix(header, BearerPrefix)
			if !ok || token == "" || cfg.JWTService == nil {
				abortUnauthorized(c, cfg, auth.ErrInvalidToken)
				return
			}
			claims, err := cfg.JWTService.ValidateToken(token)
			if err != nil {
				abortUnauthorized(c, cfg, err)
				return
			}
			c.Set(JWTClaimsKey, claims)
			setActor(c, claims.Actor())

		case cfg.Required:
			abortUnauthorized(c, cfg, errors.New("missing authorization header"))
			return

		case cfg.AllowHeader:
			if actor := strings.TrimSpace(c.GetHeader(ActorIDHeader)); actor != "" && len(actor) <= maxActorLength {
				setActor(c, actor)
			}
		}

		c.Next()
	}
}

func setActor(c *gin.Context, actorID string) {
	c.Set(ActorIDKey, actorID)
	ctx := c.Request.Context()
	ctx, _ = logger.WithActorID(ctx, logger.FromContext(ctx), actorID)
	c.Request = c.Request.WithContext(ctx)
}

func abortUnauthorized(c *gin.Context, cfg ActorAuthConfig, err error) {
	cfg.Logger.Warn("Actor authentication failed",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", GetRequestID(c)),
	)

	code, message := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, message = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidClaims),
		errors.Is(err, auth.ErrMissingActorID),
		errors.Is(err, auth.ErrTokenNotYetValid):
		code, message = dto.ErrCodeTokenInvalid, "Invalid token"
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
}

// GetActorID returns the resolved actor id, or "" when none was presented
func GetActorID(c *gin.Context) string {
	return c.GetString(ActorIDKey)
}

// GetJWTClaims returns the validated claims, or nil for header or anonymous actors
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(JWTClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}
