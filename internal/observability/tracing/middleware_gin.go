package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/pixorder/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName   = "pixorder/http"
	webhookRoute = "/api/payments/webhooks"
)

// GinMiddleware opens a server span per request and tags it with the order,
// provider and caller role the handler resolved.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, spanName(c.Request.Method, ""), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(withRequestBaggage(ctx, span))
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()

		span.SetName(spanName(c.Request.Method, route))
		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		}
		attrs = append(attrs, paymentAttributes(c)...)
		span.SetAttributes(SafeAttributes(attrs...)...)

		if !failed(route, status) {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func spanName(method, route string) string {
	name := "HTTP " + strings.ToUpper(method)
	if route != "" {
		name += " " + route
	}
	return name
}

func withRequestBaggage(ctx context.Context, span trace.Span) context.Context {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))

	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func paymentAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if orderID := strings.TrimSpace(c.GetString(obscontext.GinKeyOrderID)); orderID != "" {
		attrs = append(attrs, attribute.String("order.id", orderID))
	}
	if provider := strings.TrimSpace(c.GetString(obscontext.GinKeyProvider)); provider != "" {
		attrs = append(attrs, attribute.String("payment.provider", provider))
	}
	if role, _ := obscontext.ActorFromContext(c.Request.Context()); role != "" {
		attrs = append(attrs, attribute.String("actor.role", role))
	}
	return attrs
}

// failed marks server errors and provider notifications rejected for their
// signature.
func failed(route string, status int) bool {
	if status >= http.StatusInternalServerError {
		return true
	}
	return strings.HasPrefix(route, webhookRoute) && status == http.StatusUnauthorized
}
