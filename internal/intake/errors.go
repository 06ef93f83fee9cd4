package intake

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageWriteFailed means the blob store rejected the write. No record
	// was created.
	ErrStorageWriteFailed = errors.New("storage write failed")
	// ErrMetadataWriteFailed means the blob was written but its record was
	// not. The error is always an *OrphanedBlobError.
	ErrMetadataWriteFailed = errors.New("metadata write failed")
	ErrRecordNotFound      = errors.New("upload record not found")
	ErrMissingOwner        = errors.New("owner id is required")
	ErrInvalidOwner        = errors.New("owner id is too long")
	ErrInvalidLocalization = errors.New("localization tag is too long")
	ErrInvalidFingerprint  = errors.New("invalid fingerprint")
)

// OrphanedBlobError identifies a blob that has no metadata record.
type OrphanedBlobError struct {
	StorageKey  string
	StoragePath string
	Fingerprint string
	Err         error
}

func (e *OrphanedBlobError) Error() string {
	return fmt.Sprintf("%s: blob %q has no record: %v", ErrMetadataWriteFailed, e.StoragePath, e.Err)
}

func (e *OrphanedBlobError) Is(target error) bool {
	return target == ErrMetadataWriteFailed
}

func (e *OrphanedBlobError) Unwrap() error {
	return e.Err
}
