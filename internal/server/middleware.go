package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/pixorder/internal/auth/domain"
	"github.com/smallbiznis/pixorder/internal/authorization"
	obscontext "github.com/smallbiznis/pixorder/internal/observability/context"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
)

const contextIdentityKey = "identity"

// AuthRequired verifies the bearer token and stores the caller's identity.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextIdentityKey, identity)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), string(identity.Role), identity.SubjectID))
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), identity, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func identityFromContext(c *gin.Context) (*authdomain.Identity, bool) {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*authdomain.Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// can reports whether the caller holds a capability without failing the request.
func (s *Server) can(c *gin.Context, identity *authdomain.Identity, object string, action string) bool {
	return s.authzSvc.Authorize(c.Request.Context(), identity, object, action) == nil
}

func (s *Server) orderViewer(c *gin.Context, identity *authdomain.Identity) orderdomain.Viewer {
	return orderdomain.Viewer{
		ID:      identity.SubjectID,
		IsAdmin: s.can(c, identity, authorization.ObjectOrder, authorization.ActionOrderViewAny),
	}
}

func pricingActor(identity *authdomain.Identity) pricingdomain.Actor {
	return pricingdomain.Actor{
		ID:      identity.SubjectID,
		IsAdmin: identity.IsAdmin(),
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
