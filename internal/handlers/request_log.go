package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/auth"
	"github.com/example/lesion-intake/internal/repository"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
)

// RequestLogStore persists one entry per served request.
type RequestLogStore interface {
	SaveRequestLog(ctx context.Context, log *repository.RequestLog) error
}

// RequestLogger assigns a request id, logs the request once it completes
// and persists it to store when store is non-nil. Persistence failures are
// logged and otherwise ignored.
func RequestLogger(store RequestLogStore, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")

	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		entry := &repository.RequestLog{
			RequestID:  requestID,
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			OwnerID:    c.GetString(auth.OwnerIDKey),
			ClientIP:   c.ClientIP(),
			StatusCode: c.Writer.Status(),
			LatencyMs:  time.Since(start).Milliseconds(),
			CreatedAt:  start.UTC(),
		}
		if entry.Path == "" {
			entry.Path = c.Request.URL.Path
		}

		logger.Info("request served",
			zap.String("request_id", entry.RequestID),
			zap.String("method", entry.Method),
			zap.String("path", entry.Path),
			zap.String("owner_id", entry.OwnerID),
			zap.Int("status", entry.StatusCode),
			zap.Int64("latency_ms", entry.LatencyMs))

		if store == nil {
			return
		}
		if err := store.SaveRequestLog(context.WithoutCancel(c.Request.Context()), entry); err != nil {
			logger.Warn("failed to persist request log", zap.String("request_id", requestID), zap.Error(err))
		}
	}
}
