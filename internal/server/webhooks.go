package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	billingdomain "github.com/smallbiznis/clubhouse/internal/billing/domain"
)

const stripeSignatureHeader = "Stripe-Signature"

// HandleStripeWebhook acknowledges every verified delivery, including the
// ones that change nothing, so the gateway stops redelivering them.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, "Webhook Error: payload too large")
			c.Abort()
			return
		}
		c.String(http.StatusBadRequest, "Webhook Error: unreadable body")
		c.Abort()
		return
	}

	result, err := s.webhooks.Handle(c.Request.Context(), payload, c.GetHeader(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, billingdomain.ErrInvalidSignature) || errors.Is(err, billingdomain.ErrInvalidPayload) {
			s.log.Warn("webhook rejected", zap.Error(err))
			c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
			c.Abort()
			return
		}
		AbortWithError(c, err)
		return
	}

	fields := []zap.Field{
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.String("outcome", string(result.Outcome)),
	}
	if result.InviteError != nil {
		fields = append(fields, zap.NamedError("invite_error", result.InviteError))
	}
	s.log.Debug("webhook acknowledged", fields...)

	c.JSON(http.StatusOK, gin.H{"received": true})
}
