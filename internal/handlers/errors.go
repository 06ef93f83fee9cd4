package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/classifier"
	"github.com/example/lesion-intake/internal/intake"
	"github.com/example/lesion-intake/internal/logging"
	"github.com/example/lesion-intake/internal/validator"
)

type validationStatus struct {
	kind   error
	status int
	code   string
}

var validationStatuses = []validationStatus{
	{validator.ErrMissingFile, http.StatusBadRequest, "missing_file"},
	{validator.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "file_too_large"},
	{validator.ErrUnsupportedType, http.StatusUnsupportedMediaType, "unsupported_type"},
	{validator.ErrTypeExtensionMismatch, http.StatusBadRequest, "type_extension_mismatch"},
	{validator.ErrCorruptImage, http.StatusUnprocessableEntity, "corrupt_image"},
	{validator.ErrDimensionOutOfRange, http.StatusUnprocessableEntity, "dimension_out_of_range"},
	{validator.ErrInvalidFilename, http.StatusBadRequest, "invalid_filename"},
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "error": message})
}

// respondServiceError maps pipeline errors to HTTP responses. Client errors
// carry the validator's message; server errors are logged and answered
// generically.
func (h *Handler) respondServiceError(c *gin.Context, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		for _, vs := range validationStatuses {
			if errors.Is(verr, vs.kind) {
				body := gin.H{"code": vs.code, "error": verr.Message}
				switch vs.kind {
				case validator.ErrDimensionOutOfRange:
					body["bound"] = verr.Bound
					body["width"] = verr.Width
					body["height"] = verr.Height
				case validator.ErrUnsupportedType:
					body["accepted_types"] = acceptedTypes()
				}
				c.AbortWithStatusJSON(vs.status, body)
				return
			}
		}
	}

	var orphan *intake.OrphanedBlobError
	switch {
	case errors.Is(err, intake.ErrMissingOwner), errors.Is(err, intake.ErrInvalidOwner):
		respondError(c, http.StatusUnauthorized, "unauthorized", "invalid owner")
	case errors.Is(err, intake.ErrInvalidLocalization):
		respondError(c, http.StatusBadRequest, "invalid_localization", err.Error())
	case errors.Is(err, intake.ErrInvalidFingerprint):
		respondError(c, http.StatusBadRequest, "invalid_fingerprint", err.Error())
	case errors.Is(err, intake.ErrRecordNotFound):
		respondError(c, http.StatusNotFound, "record_not_found", "upload not found")
	case errors.Is(err, classifier.ErrClassifierUnavailable):
		h.logServerError(err)
		respondError(c, http.StatusServiceUnavailable, "classifier_unavailable", "classifier is unavailable, try again later")
	case errors.Is(err, intake.ErrStorageWriteFailed):
		h.logServerError(err)
		respondError(c, http.StatusBadGateway, "storage_write_failed", "failed to store image")
	case errors.As(err, &orphan):
		h.logServerError(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":         "metadata_write_failed",
			"error":        "image stored but its record could not be saved",
			"storage_key":  orphan.StorageKey,
			"storage_path": orphan.StoragePath,
			"fingerprint":  orphan.Fingerprint,
		})
	default:
		h.logServerError(err)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func acceptedTypes() []string {
	formats := validator.Formats()
	types := make([]string, 0, len(formats))
	for _, f := range formats {
		types = append(types, f.ContentType)
	}
	return types
}

func (h *Handler) logServerError(err error) {
	fields := []zap.Field{zap.Error(err)}
	if op, ok := logging.OperationOf(err); ok {
		fields = append(fields, zap.String("failed_operation", op))
	}
	h.logger.Error("request failed", fields...)
}
