package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleCleanupReservations — cron-триггер sweeper'а.
func (s *Server) handleCleanupReservations(c *gin.Context) {
	released, err := s.sweep.CleanupExpired(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Warn("cron cleanup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

// handleStockMonitor — cron-триггер монитора консистентности.
func (s *Server) handleStockMonitor(c *gin.Context) {
	report, err := s.monitor.Scan(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Warn("cron monitor scan failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleEmergencyCleanup — операторский сброс аномальных резервов.
func (s *Server) handleEmergencyCleanup(c *gin.Context) {
	reset, err := s.monitor.EmergencyCleanup(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("emergency cleanup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "emergency cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": reset})
}
