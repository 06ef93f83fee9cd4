// Package reconcile finds blobs that no upload record references. They are
// left behind when a record insert fails after the blob write succeeded.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/logging"
	"github.com/example/lesion-intake/internal/storage"
)

type BlobStore interface {
	List(ctx context.Context) ([]storage.BlobInfo, error)
	Delete(ctx context.Context, path string) error
}

type ReferenceChecker interface {
	ReferencedPaths(ctx context.Context, paths []string) (map[string]struct{}, error)
}

// Report summarises one sweep.
type Report struct {
	Scanned int
	Orphans []storage.BlobInfo
	Deleted int
}

type Sweeper struct {
	blobs  BlobStore
	refs   ReferenceChecker
	grace  time.Duration
	delete bool
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper returns a sweeper that ignores blobs younger than grace, so an
// upload whose record insert is still in flight is never reported. Orphans
// are only deleted when remove is true.
func NewSweeper(blobs BlobStore, refs ReferenceChecker, grace time.Duration, remove bool, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		blobs:  blobs,
		refs:   refs,
		grace:  grace,
		delete: remove,
		logger: logger.Named("reconcile"),
		now:    time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	runID := s.now().UTC().Format(time.RFC3339)
	opLogger := logging.WithOperation(s.logger, "reconcile.sweep", runID)

	blobs, err := s.blobs.List(ctx)
	if err != nil {
		return nil, logging.NewOperationError("reconcile.list_blobs", runID, err)
	}

	report := &Report{Scanned: len(blobs)}
	cutoff := s.now().Add(-s.grace)

	candidates := make([]storage.BlobInfo, 0, len(blobs))
	paths := make([]string, 0, len(blobs))
	for _, b := range blobs {
		if b.LastModified.After(cutoff) {
			continue
		}
		candidates = append(candidates, b)
		paths = append(paths, b.Path)
	}
	if len(candidates) == 0 {
		opLogger.Info("sweep finished", zap.Int("scanned", report.Scanned), zap.Int("orphans", 0))
		return report, nil
	}

	referenced, err := s.refs.ReferencedPaths(ctx, paths)
	if err != nil {
		return nil, logging.NewOperationError("reconcile.referenced_paths", runID, err)
	}

	var deleteErrs []error
	for _, b := range candidates {
		if _, ok := referenced[b.Path]; ok {
			continue
		}
		report.Orphans = append(report.Orphans, b)

		fields := append(logging.UploadFields("", path.Base(b.Path), ""),
			zap.String("storage_path", b.Path),
			zap.Time("last_modified", b.LastModified),
			zap.Int64("size", b.Size))
		opLogger.Warn("orphaned_blob", fields...)

		if !s.delete {
			continue
		}
		if err := s.blobs.Delete(ctx, b.Path); err != nil {
			deleteErrs = append(deleteErrs, fmt.Errorf("delete %s: %w", b.Path, err))
			continue
		}
		report.Deleted++
	}

	opLogger.Info("sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("deleted", report.Deleted))

	if len(deleteErrs) > 0 {
		return report, logging.NewOperationError("reconcile.delete_blobs", runID, errors.Join(deleteErrs...))
	}
	return report, nil
}
