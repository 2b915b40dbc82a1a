package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
)

func (s *Server) ResolvePrice(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var professionalID *string
	if raw := strings.TrimSpace(c.Query("professional_id")); raw != "" {
		professionalID = &raw
	}

	resp, err := s.pricingSvc.Resolve(c.Request.Context(), pricingdomain.ResolveRequest{
		ClientID:       identity.SubjectID,
		ProductKey:     c.Query("product_key"),
		ProfessionalID: professionalID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPricingRules(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.pricingSvc.ListRules(c.Request.Context(), pricingActor(identity), c.Query("product_key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpsertPricingRule(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req pricingdomain.UpsertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.pricingSvc.UpsertRule(c.Request.Context(), pricingActor(identity), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DeactivatePricingRule(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := s.pricingSvc.DeactivateRule(c.Request.Context(), pricingActor(identity), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
