package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/identity"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"go.uber.org/zap"
)

// Headers set by the upstream identity component.
const (
	HeaderUserID            = "X-User-ID"
	HeaderUserRole          = "X-User-Role"
	HeaderUserEmail         = "X-User-Email"
	HeaderUserName          = "X-User-Name"
	HeaderIdentitySignature = "X-Identity-Signature"

	contextUserIDKey = "user_id"
)

// IdentityRequired establishes the caller from the identity headers and
// rejects the request when they are missing or fail verification.
func (s *Server) IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := callerFromHeaders(c, s.cfg.Identity.SharedSecret)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("caller identity rejected",
				logger.SecurityEvent(),
				zap.Error(err),
			)
			AbortWithError(c, err)
			return
		}

		ctx := identity.WithCaller(c.Request.Context(), caller)
		ctx = obscontext.WithActor(ctx, string(caller.Role), caller.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextUserIDKey, caller.UserID)
		c.Next()
	}
}

func callerFromHeaders(c *gin.Context, secret string) (identity.Caller, error) {
	userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if userID == "" {
		return identity.Caller{}, identity.ErrMissingIdentity
	}
	rawRole := strings.TrimSpace(c.GetHeader(HeaderUserRole))
	role, err := identity.ParseRole(rawRole)
	if err != nil {
		return identity.Caller{}, err
	}
	email := strings.TrimSpace(c.GetHeader(HeaderUserEmail))
	if err := identity.Verify(secret, userID, rawRole, email, c.GetHeader(HeaderIdentitySignature)); err != nil {
		return identity.Caller{}, err
	}
	return identity.Caller{
		UserID: userID,
		Role:   role,
		Email:  email,
		Name:   strings.TrimSpace(c.GetHeader(HeaderUserName)),
	}, nil
}

func callerFromContext(c *gin.Context) (identity.Caller, bool) {
	return identity.FromContext(c.Request.Context())
}
