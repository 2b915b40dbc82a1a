package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/pixorder/internal/observability/context"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
)

type createOrderRequest struct {
	ProductKey     string  `json:"product_key" binding:"required,product_key"`
	ProfessionalID *string `json:"professional_id"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	resp, err := s.orderSvc.Create(c.Request.Context(), orderdomain.CreateRequest{
		ClientID:       identity.SubjectID,
		ProductKey:     req.ProductKey,
		ProfessionalID: req.ProfessionalID,
		Payer: orderdomain.Payer{
			Email: identity.Email,
			Name:  identity.Name,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(obscontext.GinKeyOrderID, resp.OrderID)
	c.Set(obscontext.GinKeyProvider, resp.Provider)
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetOrder(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	orderID := strings.TrimSpace(c.Param("id"))
	resp, err := s.orderSvc.Get(c.Request.Context(), s.orderViewer(c, identity), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RefreshOrder polls the provider for the order's payment status.
func (s *Server) RefreshOrder(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	orderID := strings.TrimSpace(c.Param("id"))
	c.Set(obscontext.GinKeyOrderID, orderID)
	resp, err := s.orderSvc.Refresh(c.Request.Context(), s.orderViewer(c, identity), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
