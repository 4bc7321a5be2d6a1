package server

import (
	"github.com/gin-gonic/gin"
)

// authorize gates a route on a capability of the current caller. Ownership
// of individual orders and payments is enforced by the services.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), caller, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
