package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/auth"
	"github.com/example/lesion-intake/internal/intake"
	"github.com/example/lesion-intake/internal/repository"
	"github.com/example/lesion-intake/internal/validator"
)

// multipartOverhead is the allowance for multipart framing and the
// localization field on top of the image size limit.
const multipartOverhead = 1 << 20

// Service is the intake surface used by the HTTP handlers.
type Service interface {
	Process(ctx context.Context, raw validator.RawUpload, ownerID, localizationTag string) (*repository.UploadRecord, error)
	History(ctx context.Context, ownerID string) ([]*repository.UploadRecord, error)
	Record(ctx context.Context, ownerID, recordID string) (*repository.UploadRecord, error)
	ByFingerprint(ctx context.Context, ownerID, fingerprint string) ([]*repository.UploadRecord, error)
	Duplicates(ctx context.Context, ownerID, recordID string) (*intake.DuplicateReport, error)
	Summary(ctx context.Context, ownerID string) (*intake.Summary, error)
}

// URLResolver turns a stored blob path into a client-facing URL.
type URLResolver interface {
	ResolveURL(ctx context.Context, path string) (string, error)
}

type Handler struct {
	svc      Service
	urls     URLResolver
	maxBytes int64
	logger   *zap.Logger
}

// New returns a Handler. urls may be nil, in which case responses carry no
// url.
func New(svc Service, urls URLResolver, maxBytes int64, logger *zap.Logger) *Handler {
	if maxBytes <= 0 {
		maxBytes = validator.DefaultMaxBytes
	}
	return &Handler{svc: svc, urls: urls, maxBytes: maxBytes, logger: logger.Named("handlers")}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	uploads := router.Group("/uploads", authMiddleware)
	uploads.POST("", h.upload)
	uploads.GET("", h.history) // ?fingerprint=<sha256 hex> narrows to identical content
	uploads.GET("/summary", h.summary)
	uploads.GET("/:id", h.record)
	uploads.GET("/:id/duplicates", h.duplicates)
}

func (h *Handler) upload(c *gin.Context) {
	owner := ownerID(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		if isBodyTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, "file_too_large", "request body exceeds upload limit")
			return
		}
		respondError(c, http.StatusBadRequest, "missing_file", "image file is required")
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "missing_file", "unable to open image")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", "failed to read image")
		return
	}

	raw := validator.RawUpload{
		Data:        data,
		ContentType: file.Header.Get("Content-Type"),
		Filename:    file.Filename,
		Size:        file.Size,
	}

	rec, err := h.svc.Process(c.Request.Context(), raw, owner, c.PostForm("localization"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.view(c.Request.Context(), rec, true))
}

func (h *Handler) history(c *gin.Context) {
	var (
		records []*repository.UploadRecord
		err     error
	)
	if fp := c.Query("fingerprint"); fp != "" {
		records, err = h.svc.ByFingerprint(c.Request.Context(), ownerID(c), fp)
	} else {
		records, err = h.svc.History(c.Request.Context(), ownerID(c))
	}
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	views := make([]gin.H, 0, len(records))
	for _, rec := range records {
		views = append(views, h.view(c.Request.Context(), rec, false))
	}
	c.JSON(http.StatusOK, gin.H{"uploads": views})
}

func (h *Handler) summary(c *gin.Context) {
	summary, err := h.svc.Summary(c.Request.Context(), ownerID(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) record(c *gin.Context) {
	rec, err := h.svc.Record(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(c.Request.Context(), rec, true))
}

func (h *Handler) duplicates(c *gin.Context) {
	report, err := h.svc.Duplicates(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, rec := range report.Duplicates {
		duplicates = append(duplicates, h.view(c.Request.Context(), rec, false))
	}
	c.JSON(http.StatusOK, gin.H{
		"record_id":   report.Record.RecordID,
		"fingerprint": report.Record.Fingerprint,
		"duplicates":  duplicates,
	})
}

func (h *Handler) view(ctx context.Context, rec *repository.UploadRecord, withURL bool) gin.H {
	v := gin.H{
		"record_id":             rec.RecordID,
		"verdict":               rec.Verdict,
		"confidence":            rec.Confidence,
		"benign_probability":    rec.BenignProbability,
		"malignant_probability": rec.MalignantProbability,
		"class_probabilities":   rec.ClassProbabilities,
		"fingerprint":           rec.Fingerprint,
		"storage_key":           rec.StorageKey,
		"filename":              rec.Filename,
		"content_type":          rec.ContentType,
		"width":                 rec.Width,
		"height":                rec.Height,
		"size_bytes":            rec.SizeBytes,
		"localization":          rec.LocalizationTag,
		"created_at":            rec.CreatedAt,
	}
	if withURL && h.urls != nil {
		url, err := h.urls.ResolveURL(ctx, rec.StoragePath)
		if err != nil {
			h.logger.Warn("failed to resolve blob url", zap.String("record_id", rec.RecordID), zap.Error(err))
		} else {
			v["url"] = url
		}
	}
	return v
}

func ownerID(c *gin.Context) string {
	id, _ := auth.OwnerID(c.Request.Context())
	return id
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
