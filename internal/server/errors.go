package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/pixorder/internal/auth/domain"
	"github.com/smallbiznis/pixorder/internal/authorization"
	manualreviewdomain "github.com/smallbiznis/pixorder/internal/manualreview/domain"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
	paymentproviderdomain "github.com/smallbiznis/pixorder/internal/paymentprovider/domain"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// domainErrorStatus maps domain sentinels to a status. The sentinel text is
// returned as the error type so clients can branch on it.
var domainErrorStatus = []struct {
	err    error
	status int
}{
	{pricingdomain.ErrNoPricingRuleFound, http.StatusUnprocessableEntity},
	{orderdomain.ErrRateLimited, http.StatusTooManyRequests},
	{orderdomain.ErrProviderFailure, http.StatusBadGateway},
	{paymentdomain.ErrWebhookProviderFailure, http.StatusBadGateway},
	{orderdomain.ErrManualPixNotConfigured, http.StatusInternalServerError},
	{manualreviewdomain.ErrStorageNotConfigured, http.StatusServiceUnavailable},
	{paymentdomain.ErrInvalidSignature, http.StatusUnauthorized},
	{orderdomain.ErrCreationInProgress, http.StatusConflict},
	{orderdomain.ErrInvalidTransition, http.StatusConflict},
	{manualreviewdomain.ErrProofAlreadyReviewed, http.StatusConflict},
	{manualreviewdomain.ErrOrderAlreadyPaid, http.StatusConflict},
	{manualreviewdomain.ErrOrderAlreadyApproved, http.StatusConflict},
	{pricingdomain.ErrConflict, http.StatusConflict},
	{orderdomain.ErrOrderNotFound, http.StatusNotFound},
	{manualreviewdomain.ErrProofNotFound, http.StatusNotFound},
	{orderdomain.ErrForbidden, http.StatusForbidden},
	{pricingdomain.ErrForbidden, http.StatusForbidden},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	for _, m := range domainErrorStatus {
		if errors.Is(err, m.err) {
			code := m.err.Error()
			return m.status, errorPayload{
				Type:    code,
				Message: strings.ReplaceAll(code, "_", " "),
			}
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrTokenExpired),
		errors.Is(err, authdomain.ErrInvalidSubject),
		errors.Is(err, authdomain.ErrNotConfigured):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog reports the error type and status for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, http.StatusText(status)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isPricingValidationError(err),
		isOrderValidationError(err),
		isProofValidationError(err),
		isPaymentValidationError(err):
		return true
	default:
		return false
	}
}

func isPricingValidationError(err error) bool {
	switch {
	case errors.Is(err, pricingdomain.ErrInvalidClient),
		errors.Is(err, pricingdomain.ErrInvalidProductKey),
		errors.Is(err, pricingdomain.ErrInvalidScope),
		errors.Is(err, pricingdomain.ErrInvalidOwner),
		errors.Is(err, pricingdomain.ErrInvalidPrice),
		errors.Is(err, pricingdomain.ErrInvalidCurrency),
		errors.Is(err, pricingdomain.ErrInvalidID):
		return true
	default:
		return false
	}
}

func isOrderValidationError(err error) bool {
	switch {
	case errors.Is(err, orderdomain.ErrInvalidOrderID),
		errors.Is(err, orderdomain.ErrInvalidClient):
		return true
	default:
		return false
	}
}

func isProofValidationError(err error) bool {
	switch {
	case errors.Is(err, manualreviewdomain.ErrInvalidProofID),
		errors.Is(err, manualreviewdomain.ErrInvalidFilePath),
		errors.Is(err, manualreviewdomain.ErrInvalidFilename),
		errors.Is(err, manualreviewdomain.ErrInvalidDecision),
		errors.Is(err, manualreviewdomain.ErrInvalidReviewer),
		errors.Is(err, manualreviewdomain.ErrNotManualOrder),
		errors.Is(err, manualreviewdomain.ErrProofFileMissing):
		return true
	default:
		return false
	}
}

func isPaymentValidationError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrWebhookMissingID),
		errors.Is(err, paymentproviderdomain.ErrInvalidProvider),
		errors.Is(err, paymentproviderdomain.ErrInvalidActor):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, pricingdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return rootError(err).Error()
	}
}

func rootError(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
