package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/aggregate"
	"payment-failure-alerts/internal/analytics"
	"payment-failure-alerts/internal/service"
	"payment-failure-alerts/internal/storage"
)

type failureRequest struct {
	OrderID      string            `json:"order_id" binding:"required"`
	Gateway      string            `json:"gateway" binding:"required"`
	ErrorCode    string            `json:"error_code"`
	ErrorMessage string            `json:"error_message"`
	Amount       decimal.Decimal   `json:"amount"`
	Currency     string            `json:"currency" binding:"required"`
	CustomerID   string            `json:"customer_id"`
	OccurredAt   *time.Time        `json:"occurred_at"`
	Metadata     map[string]string `json:"metadata"`
}

type attemptRequest struct {
	Gateway   string          `json:"gateway" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Outcome   string          `json:"outcome" binding:"required"`
	Timestamp *time.Time      `json:"timestamp"`
}

func (s *Server) recordFailure(c *gin.Context) {
	var req failureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event := storage.FailureEvent{
		OrderID:      req.OrderID,
		Gateway:      req.Gateway,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
		Amount:       req.Amount,
		Currency:     req.Currency,
		CustomerID:   req.CustomerID,
		Metadata:     req.Metadata,
	}
	if req.OccurredAt != nil {
		event.OccurredAt = req.OccurredAt.UTC()
	}

	id, fired, err := s.monitor.RecordFailure(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("failed to record failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record failure"})
		return
	}

	alerts := make([]string, 0, len(fired))
	for _, record := range fired {
		alerts = append(alerts, record.Rule)
	}

	c.JSON(http.StatusCreated, gin.H{
		"event_id":     id,
		"alerts_fired": alerts,
	})
}

func (s *Server) recordAttempt(c *gin.Context) {
	var req attemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	sample := storage.AttemptSample{
		Gateway: req.Gateway,
		Amount:  req.Amount,
		Outcome: storage.AttemptOutcome(req.Outcome),
	}
	if req.Timestamp != nil {
		sample.Timestamp = req.Timestamp.UTC()
	}

	if err := s.monitor.RecordAttempt(c.Request.Context(), sample); err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("failed to record attempt")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record attempt"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

func (s *Server) aggregate(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
		return
	}

	groupBy := aggregate.GroupBy(c.DefaultQuery("group_by", string(aggregate.GroupNone)))

	buckets, err := s.monitor.Aggregate(c.Request.Context(), aggregate.TimeWindow{
		From:      from.UTC(),
		To:        to.UTC(),
		Gateway:   c.Query("gateway"),
		ErrorCode: c.Query("error_code"),
		GroupBy:   groupBy,
	})
	if err != nil {
		if errors.Is(err, aggregate.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must not be after to"})
			return
		}
		if !groupBy.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown group_by"})
			return
		}
		s.logger.Error().Err(err).Msg("aggregate query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

func (s *Server) analytics(c *gin.Context) {
	timeframe := analytics.Timeframe(c.DefaultQuery("timeframe", string(analytics.TimeframeWeek)))
	if !timeframe.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown timeframe"})
		return
	}

	report, err := s.monitor.Analytics(c.Request.Context(), timeframe, c.Query("gateway"))
	if err != nil {
		s.logger.Error().Err(err).Msg("analytics query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics query failed"})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) recentAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	alerts, err := s.monitor.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("alert query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "alert query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}
