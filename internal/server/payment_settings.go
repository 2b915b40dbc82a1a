package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	paymentproviderdomain "github.com/smallbiznis/pixorder/internal/paymentprovider/domain"
)

func (s *Server) GetPaymentSettings(c *gin.Context) {
	resp, err := s.providerSvc.Get(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdatePaymentSettings(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentproviderdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.providerSvc.Update(c.Request.Context(), identity.SubjectID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
