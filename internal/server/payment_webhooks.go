package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/pixorder/internal/observability/context"
	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
)

// HandlePaymentWebhook accepts provider notifications. The provider comes
// from the path or the notification URL's query string.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if provider == "" {
		provider = strings.TrimSpace(c.Query("provider"))
	}
	c.Set(obscontext.GinKeyProvider, provider)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.webhookSvc.Handle(c.Request.Context(), paymentdomain.WebhookRequest{
		Provider: provider,
		Query:    c.Request.URL.Query(),
		Headers:  c.Request.Header,
		Body:     payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if resp.OrderID != "" {
		c.Set(obscontext.GinKeyOrderID, resp.OrderID)
	}
	c.JSON(http.StatusOK, resp)
}
