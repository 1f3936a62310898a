package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

type reserveRequest struct {
	SessionID  string                  `json:"session_id" binding:"required"`
	Operations []domain.StockOperation `json:"operations" binding:"required"`
	TTLMinutes int                     `json:"ttl_minutes"`
}

type releaseRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// handleReserve резервирует сток под checkout-сессию.
func (s *Server) handleReserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ttl := s.reservationTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	result := s.engine.Reserve(c.Request.Context(), req.Operations, req.SessionID, ttl)
	if !result.Success {
		c.JSON(reserveFailureStatus(result.Errors), gin.H{
			"success": false,
			"errors":  result.Errors,
		})
		return
	}

	// Успешная инициация возвращает единицу квоты: лимит бьет только по
	// неуспешному перебору.
	if s.limiter != nil {
		s.limiter.Refund(clientIdentity(c))
	}

	s.enqueueStockEvent(domain.EventTypeStockReserved, req.SessionID, req.Operations)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleRelease снимает резерв checkout-сессии (пользователь отменил оплату).
func (s *Server) handleRelease(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	reservation, err := s.reservations.Get(req.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			// Резерв уже снят или истёк: отвечаем успехом, повтор безопасен.
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load reservation"})
		return
	}

	result := s.engine.Release(c.Request.Context(), reservation.Operations)
	if !result.Success {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "errors": result.Errors})
		return
	}

	if err := s.reservations.Delete(req.SessionID); err != nil {
		s.logger.WithError(err).WithField("session_id", req.SessionID).Warn("failed to delete released reservation")
	}

	s.enqueueStockEvent(domain.EventTypeStockReleased, req.SessionID, reservation.Operations)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// reserveFailureStatus сопоставляет текст отказа HTTP-статусу: бизнес-отказ
// по стоку — 409, неизвестный товар — 400, остальное — временная ошибка.
func reserveFailureStatus(messages []string) int {
	for _, message := range messages {
		if strings.HasPrefix(message, "Insufficient stock") {
			return http.StatusConflict
		}
	}
	for _, message := range messages {
		if strings.Contains(message, "not found") {
			return http.StatusBadRequest
		}
	}
	return http.StatusServiceUnavailable
}

// enqueueStockEvent публикует событие стока через outbox; отказ очереди
// не влияет на ответ клиенту.
func (s *Server) enqueueStockEvent(eventType, sessionID string, operations []domain.StockOperation) {
	if s.outbox == nil {
		return
	}

	payload := domain.StockEventPayload{
		SessionID:       sessionID,
		Operations:      operations,
		RevalidatePaths: s.revalidatePaths(operations),
		OccurredAt:      time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Warn("failed to marshal stock event payload")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "reservation",
		AggregateID:   sessionID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("failed to enqueue stock event")
	}
}

func (s *Server) revalidatePaths(operations []domain.StockOperation) []string {
	paths := []string{"/products"}
	seen := map[string]struct{}{}
	for _, operation := range operations {
		if _, ok := seen[operation.ProductID]; ok {
			continue
		}
		seen[operation.ProductID] = struct{}{}

		product, err := s.products.Get(operation.ProductID)
		if err != nil || product.Slug == "" {
			continue
		}
		paths = append(paths, "/products/"+product.Slug)
	}
	return paths
}
