package rest

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/service/webhook"
)

// maxWebhookBody ограничивает размер принимаемого webhook-payload.
const maxWebhookBody = 64 * 1024

// metadata-ключи, которые checkout-флоу пишет в платёжную сессию.
const (
	metadataStockOperations   = "stock_operations"
	metadataCheckoutSessionID = "checkout_session_id"
)

// handleStripeWebhook проверяет подпись события Stripe, приводит его к
// провайдеро-независимому PaymentEvent и передает координатору.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	// Версию API события задает Stripe dashboard магазина, поэтому
	// проверяется только подпись.
	event, err := stripewebhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		s.webhookSecret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		s.recordSignatureFailure(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrSignatureInvalid.Error()})
		return
	}

	paymentEvent, ok, err := mapStripeEvent(event)
	if err != nil {
		s.logger.WithError(err).WithField("stripe_event", event.ID).Warn("failed to map stripe event")
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}
	if !ok {
		// Событие вне таблицы действий: подтверждаем, чтобы Stripe не повторял.
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	result, err := s.coordinator.HandleEvent(c.Request.Context(), paymentEvent)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"stripe_event": event.ID,
			"session_id":   paymentEvent.SessionID,
		}).Error("payment event processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": result.Duplicate})
}

// mapStripeEvent переводит Stripe-событие в PaymentEvent. Второй результат
// false — событие не из таблицы действий и обрабатывать его не нужно.
func mapStripeEvent(event stripe.Event) (webhook.PaymentEvent, bool, error) {
	var eventType webhook.EventType
	switch event.Type {
	case "checkout.session.completed", "payment_intent.succeeded":
		eventType = webhook.EventPaymentSucceeded
	case "checkout.session.expired":
		eventType = webhook.EventSessionExpired
	case "checkout.session.async_payment_failed":
		eventType = webhook.EventAsyncPaymentFailed
	case "payment_intent.payment_failed":
		eventType = webhook.EventPaymentFailed
	default:
		return webhook.PaymentEvent{}, false, nil
	}

	var object struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return webhook.PaymentEvent{}, false, err
	}

	sessionID := object.ID
	if fromMetadata := object.Metadata[metadataCheckoutSessionID]; fromMetadata != "" {
		sessionID = fromMetadata
	}

	// Операции из metadata сессии имеют приоритет над ledger-записью; при
	// их отсутствии координатор восстановит их по session id.
	var operations []domain.StockOperation
	if raw := object.Metadata[metadataStockOperations]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &operations); err != nil {
			operations = nil
		}
	}

	return webhook.PaymentEvent{
		ID:         event.ID,
		Type:       eventType,
		SessionID:  sessionID,
		Operations: operations,
	}, true, nil
}

func (s *Server) recordSignatureFailure(err error) {
	s.logger.WithError(err).Warn("webhook signature verification failed")
	if appendErr := s.errorLog.Append(domain.ErrorLogEntry{
		Class:    domain.ErrorClassSignatureInvalid,
		Severity: domain.SeverityMedium,
		Message:  "webhook signature verification failed: " + err.Error(),
	}); appendErr != nil {
		s.logger.WithError(appendErr).Warn("failed to record signature failure")
	}
}
