package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/lesion-intake/internal/logging"
	"github.com/example/lesion-intake/internal/retry"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("record not found")

// Column limits for caller-supplied values. They match the size tags below.
const (
	MaxOwnerIDLength         = 128
	MaxLocalizationTagLength = 64
)

// UploadRecord is the persisted outcome of one successful intake. Rows are
// inserted once and never updated.
type UploadRecord struct {
	ID                   uint      `gorm:"primaryKey" json:"-"`
	RecordID             string    `gorm:"column:record_id;uniqueIndex;size:36" json:"record_id"`
	OwnerID              string    `gorm:"column:owner_id;index:idx_upload_owner_created,priority:1;size:128" json:"owner_id"`
	Fingerprint          string    `gorm:"column:fingerprint;index;size:64" json:"fingerprint"`
	StorageKey           string    `gorm:"column:storage_key;size:512" json:"storage_key"`
	StoragePath          string    `gorm:"column:storage_path;uniqueIndex;size:1024" json:"storage_path"`
	LocalizationTag      string    `gorm:"column:localization_tag;size:64" json:"localization_tag"`
	Filename             string    `gorm:"column:filename;size:255" json:"filename"`
	ContentType          string    `gorm:"column:content_type;size:32" json:"content_type"`
	Width                int       `gorm:"column:width" json:"width"`
	Height               int       `gorm:"column:height" json:"height"`
	SizeBytes            int64     `gorm:"column:size_bytes" json:"size_bytes"`
	Verdict              string    `gorm:"column:verdict;size:16" json:"verdict"`
	Confidence           float64   `gorm:"column:confidence" json:"confidence"`
	BenignProbability    float64   `gorm:"column:benign_probability" json:"benign_probability"`
	MalignantProbability float64   `gorm:"column:malignant_probability" json:"malignant_probability"`
	ClassProbabilities   []float64 `gorm:"column:class_probabilities;serializer:json" json:"class_probabilities"`
	CreatedAt            time.Time `gorm:"column:created_at;index:idx_upload_owner_created,priority:2" json:"created_at"`
}

func (UploadRecord) TableName() string {
	return "upload_records"
}

// Aggregation summarises one owner's records.
type Aggregation struct {
	TotalCount        int64   `gorm:"column:total_count"`
	BenignCount       int64   `gorm:"column:benign_count"`
	MalignantCount    int64   `gorm:"column:malignant_count"`
	AverageConfidence float64 `gorm:"column:average_confidence"`
}

// UploadRepository persists upload records. Reads retry on transient errors;
// inserts run exactly once.
type UploadRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewUploadRepository(db *gorm.DB, logger *zap.Logger) *UploadRepository {
	p := retry.DefaultPolicy()
	return &UploadRepository{
		db:             db,
		logger:         logger.Named("upload_repository"),
		retryAttempts:  p.Attempts,
		initialBackoff: p.InitialBackoff,
		maxBackoff:     p.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *UploadRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&UploadRecord{}, &RequestLog{})
}

// Insert writes rec. It is never retried: a timed-out insert may still have
// committed.
func (r *UploadRepository) Insert(ctx context.Context, rec *UploadRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return logging.NewOperationError("repository.insert_upload", rec.RecordID, err)
	}
	return nil
}

// ListByOwner returns the owner's records, newest first. An owner without
// records gets an empty slice.
func (r *UploadRepository) ListByOwner(ctx context.Context, ownerID string) ([]*UploadRecord, error) {
	records := make([]*UploadRecord, 0)
	err := r.executeWithRetry(ctx, "repository.list_by_owner", "", func() error {
		records = records[:0]
		return r.db.WithContext(ctx).
			Where("owner_id = ?", ownerID).
			Order("created_at DESC").
			Order("id DESC").
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FindByRecordIDAndOwner returns ErrNotFound when the record does not exist
// or belongs to someone else.
func (r *UploadRepository) FindByRecordIDAndOwner(ctx context.Context, recordID, ownerID string) (*UploadRecord, error) {
	var rec UploadRecord
	err := r.executeWithRetry(ctx, "repository.find_by_record_id", recordID, func() error {
		err := r.db.WithContext(ctx).First(&rec, "record_id = ? AND owner_id = ?", recordID, ownerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByFingerprint returns the owner's other records sharing fingerprint.
func (r *UploadRepository) FindByFingerprint(ctx context.Context, ownerID, fingerprint, excludeRecordID string) ([]*UploadRecord, error) {
	records := make([]*UploadRecord, 0)
	err := r.executeWithRetry(ctx, "repository.find_by_fingerprint", excludeRecordID, func() error {
		records = records[:0]
		return r.db.WithContext(ctx).
			Where("owner_id = ? AND fingerprint = ? AND record_id <> ?", ownerID, fingerprint, excludeRecordID).
			Order("created_at DESC").
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AggregateByOwner counts the owner's records per verdict.
func (r *UploadRepository) AggregateByOwner(ctx context.Context, ownerID string) (*Aggregation, error) {
	var agg Aggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_by_owner", "", func() error {
		return r.db.WithContext(ctx).
			Model(&UploadRecord{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0) AS benign_count,
				COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0) AS malignant_count,
				COALESCE(AVG(confidence), 0) AS average_confidence`, "benign", "malignant").
			Where("owner_id = ?", ownerID).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

const referencedPathsBatch = 500

// ReferencedPaths reports which of paths are referenced by some record.
func (r *UploadRepository) ReferencedPaths(ctx context.Context, paths []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(paths))
	for start := 0; start < len(paths); start += referencedPathsBatch {
		end := start + referencedPathsBatch
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]

		var hits []string
		err := r.executeWithRetry(ctx, "repository.referenced_paths", "", func() error {
			hits = hits[:0]
			return r.db.WithContext(ctx).
				Model(&UploadRecord{}).
				Where("storage_path IN ?", batch).
				Pluck("storage_path", &hits).Error
		})
		if err != nil {
			return nil, err
		}
		for _, p := range hits {
			found[p] = struct{}{}
		}
	}
	return found, nil
}

func (r *UploadRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, policy, r.logger, operation, requestID, fn)
}
