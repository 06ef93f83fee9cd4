// Package intake runs one uploaded image through validation, classification,
// blob storage and record creation, and serves the owner's read views.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/lesion-intake/internal/classifier"
	"github.com/example/lesion-intake/internal/fingerprint"
	"github.com/example/lesion-intake/internal/logging"
	"github.com/example/lesion-intake/internal/repository"
	"github.com/example/lesion-intake/internal/retry"
	"github.com/example/lesion-intake/internal/validator"
)

const defaultRecordTTL = 10 * time.Minute

type Validator interface {
	Validate(raw validator.RawUpload) (*validator.Image, error)
}

type Classifier interface {
	Classify(ctx context.Context, img *validator.Image) (classifier.Result, error)
}

// BlobStore writes a blob under key and returns its backend path.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// RecordStore defines the persistence operations needed by the pipeline.
type RecordStore interface {
	Insert(ctx context.Context, rec *repository.UploadRecord) error
	ListByOwner(ctx context.Context, ownerID string) ([]*repository.UploadRecord, error)
	FindByRecordIDAndOwner(ctx context.Context, recordID, ownerID string) (*repository.UploadRecord, error)
	FindByFingerprint(ctx context.Context, ownerID, fingerprint, excludeRecordID string) ([]*repository.UploadRecord, error)
	AggregateByOwner(ctx context.Context, ownerID string) (*repository.Aggregation, error)
}

// Pipeline is shared by all requests. It holds no per-call state.
type Pipeline struct {
	validator  Validator
	classifier Classifier
	blobs      BlobStore
	records    RecordStore
	cache      Cache
	logger     *zap.Logger
	recordTTL  time.Duration
	retry      retry.Policy
	now        func() time.Time
}

type Option func(*Pipeline)

// WithRecordTTL sets how long records stay in the read cache.
func WithRecordTTL(ttl time.Duration) Option {
	return func(p *Pipeline) {
		if ttl > 0 {
			p.recordTTL = ttl
		}
	}
}

// WithRetryPolicy overrides the policy used for cache calls.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) { p.retry = policy }
}

// NewPipeline wires the pipeline. cache may be nil, in which case reads go
// straight to the record store.
func NewPipeline(v Validator, c Classifier, blobs BlobStore, records RecordStore, cache Cache, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		validator:  v,
		classifier: c,
		blobs:      blobs,
		records:    records,
		cache:      cache,
		logger:     logger.Named("intake"),
		recordTTL:  defaultRecordTTL,
		retry:      retry.DefaultPolicy(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, classifies and persists one upload. Nothing durable is
// written unless validation and classification both succeed. A blob whose
// record cannot be inserted is reported as *OrphanedBlobError and left in
// place.
func (p *Pipeline) Process(ctx context.Context, raw validator.RawUpload, ownerID, localizationTag string) (*repository.UploadRecord, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	localizationTag = strings.TrimSpace(localizationTag)
	if len(localizationTag) > repository.MaxLocalizationTagLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidLocalization, len(localizationTag), repository.MaxLocalizationTagLength)
	}

	recordID := uuid.NewString()
	opLogger := logging.WithOperation(p.logger, "intake.process", recordID)

	img, err := p.validator.Validate(raw)
	if err != nil {
		opLogger.Info("upload rejected", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	var (
		result classifier.Result
		fp     fingerprint.Fingerprint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		result, err = p.classifier.Classify(gctx, img)
		return err
	})
	g.Go(func() error {
		fp = fingerprint.Of(raw.Data)
		return nil
	})
	if err := g.Wait(); err != nil {
		wrapped := logging.NewOperationError("intake.classify", recordID, err)
		opLogger.Error("classification failed", zap.Error(wrapped))
		return nil, wrapped
	}

	storageKey := uuid.NewString() + "_" + img.Filename
	storagePath, err := p.blobs.Put(ctx, storageKey, raw.Data, img.ContentType)
	if err != nil {
		wrapped := logging.NewOperationError("intake.store_blob", recordID, fmt.Errorf("%w: %w", ErrStorageWriteFailed, err))
		opLogger.Error("blob write failed", append(logging.UploadFields(ownerID, storageKey, fp.String()), zap.Error(err))...)
		return nil, wrapped
	}

	rec := &repository.UploadRecord{
		RecordID:             recordID,
		OwnerID:              ownerID,
		Fingerprint:          fp.String(),
		StorageKey:           storageKey,
		StoragePath:          storagePath,
		LocalizationTag:      localizationTag,
		Filename:             img.Filename,
		ContentType:          img.ContentType,
		Width:                img.Width,
		Height:               img.Height,
		SizeBytes:            int64(len(raw.Data)),
		Verdict:              string(result.Verdict),
		Confidence:           result.Confidence,
		BenignProbability:    result.BenignProbability,
		MalignantProbability: result.MalignantProbability,
		ClassProbabilities:   result.ClassProbabilities,
		CreatedAt:            p.now().UTC(),
	}

	if err := p.records.Insert(ctx, rec); err != nil {
		orphan := &OrphanedBlobError{
			StorageKey:  storageKey,
			StoragePath: storagePath,
			Fingerprint: fp.String(),
			Err:         err,
		}
		fields := append(logging.UploadFields(ownerID, storageKey, fp.String()),
			zap.String("storage_path", storagePath),
			zap.Bool("orphaned_blob", true),
			zap.Error(err))
		opLogger.Error("orphaned_blob", fields...)
		return nil, logging.NewOperationError("intake.insert_record", recordID, orphan)
	}

	p.cacheRecord(ctx, rec)

	opLogger.Info("upload processed",
		append(logging.UploadFields(ownerID, storageKey, fp.String()),
			zap.String("verdict", rec.Verdict),
			zap.Float64("confidence", rec.Confidence))...)
	return rec, nil
}

// History returns the owner's records, newest first.
func (p *Pipeline) History(ctx context.Context, ownerID string) ([]*repository.UploadRecord, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	records, err := p.records.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*repository.UploadRecord{}
	}
	return records, nil
}

// Record retrieves a cached record or loads it from persistence.
func (p *Pipeline) Record(ctx context.Context, ownerID, recordID string) (*repository.UploadRecord, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}

	if rec, ok := p.cachedRecord(ctx, recordID); ok && rec.OwnerID == ownerID {
		return rec, nil
	}

	rec, err := p.records.FindByRecordIDAndOwner(ctx, recordID, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if err != nil {
		return nil, err
	}
	p.cacheRecord(ctx, rec)
	return rec, nil
}

// ByFingerprint returns the owner's records whose content hashes to fp,
// newest first.
func (p *Pipeline) ByFingerprint(ctx context.Context, ownerID, fp string) ([]*repository.UploadRecord, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	parsed, err := fingerprint.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFingerprint, err)
	}
	return p.records.FindByFingerprint(ctx, ownerID, parsed.String(), "")
}

// DuplicateReport lists the owner's other uploads of identical bytes.
type DuplicateReport struct {
	Record     *repository.UploadRecord
	Duplicates []*repository.UploadRecord
}

func (p *Pipeline) Duplicates(ctx context.Context, ownerID, recordID string) (*DuplicateReport, error) {
	rec, err := p.Record(ctx, ownerID, recordID)
	if err != nil {
		return nil, err
	}

	duplicates, err := p.records.FindByFingerprint(ctx, ownerID, rec.Fingerprint, rec.RecordID)
	if err != nil {
		return nil, err
	}
	return &DuplicateReport{Record: rec, Duplicates: duplicates}, nil
}

// Summary represents aggregated classification outcomes for one owner.
type Summary struct {
	TotalUploads      int64   `json:"total_uploads"`
	BenignCount       int64   `json:"benign_count"`
	MalignantCount    int64   `json:"malignant_count"`
	MalignantRate     float64 `json:"malignant_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

func (p *Pipeline) Summary(ctx context.Context, ownerID string) (*Summary, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}

	aggregation, err := p.records.AggregateByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TotalUploads:      aggregation.TotalCount,
		BenignCount:       aggregation.BenignCount,
		MalignantCount:    aggregation.MalignantCount,
		AverageConfidence: aggregation.AverageConfidence,
	}
	if aggregation.TotalCount > 0 {
		summary.MalignantRate = float64(aggregation.MalignantCount) / float64(aggregation.TotalCount)
	}
	return summary, nil
}

// checkOwner rejects owner ids the record store cannot hold, before any side
// effect.
func checkOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrMissingOwner
	}
	if len(ownerID) > repository.MaxOwnerIDLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidOwner, len(ownerID), repository.MaxOwnerIDLength)
	}
	return nil
}

// cacheRecord is best-effort: the record is already durable.
func (p *Pipeline) cacheRecord(ctx context.Context, rec *repository.UploadRecord) {
	if p.cache == nil {
		return
	}
	opLogger := logging.WithOperation(p.logger, "cache.set.record", rec.RecordID)

	serialized, err := json.Marshal(rec)
	if err != nil {
		opLogger.Warn("failed to serialize record", zap.Error(err))
		return
	}

	key := recordCacheKey(rec.RecordID)
	if err := retry.Do(ctx, p.retry, p.logger, "cache.set.record", rec.RecordID, func() error {
		return p.cache.Set(ctx, key, string(serialized), p.recordTTL)
	}); err != nil {
		opLogger.Warn("failed to cache record", zap.Error(err))
	}
}

func (p *Pipeline) cachedRecord(ctx context.Context, recordID string) (*repository.UploadRecord, bool) {
	if p.cache == nil {
		return nil, false
	}
	opLogger := logging.WithOperation(p.logger, "cache.get.record", recordID)

	var (
		cached string
		miss   bool
	)
	err := retry.Do(ctx, p.retry, p.logger, "cache.get.record", recordID, func() error {
		value, err := p.cache.Get(ctx, recordCacheKey(recordID))
		if errors.Is(err, ErrCacheMiss) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	if err != nil {
		opLogger.Warn("failed to read cache", zap.Error(err))
		return nil, false
	}
	if miss {
		return nil, false
	}

	var rec repository.UploadRecord
	if err := json.Unmarshal([]byte(cached), &rec); err != nil {
		opLogger.Warn("failed to decode cached record", zap.Error(err))
		return nil, false
	}
	return &rec, true
}
