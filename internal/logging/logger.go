package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the service's JSON logger at the requested level.
// An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level = strings.TrimSpace(level); level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}

// UploadFields are the identifiers operators need to find an upload's blob
// and record. Empty values are omitted.
func UploadFields(ownerID, storageKey, fingerprint string) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if ownerID != "" {
		fields = append(fields, zap.String("owner_id", ownerID))
	}
	if storageKey != "" {
		fields = append(fields, zap.String("storage_key", storageKey))
	}
	if fingerprint != "" {
		fields = append(fields, zap.String("fingerprint", fingerprint))
	}
	return fields
}
