// Package validator turns an untrusted upload into a decoded image that is
// safe to classify and store.
package validator

import (
	"bytes"
	"image"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultMaxBytes int64 = 10 << 20

	MinDimension = 100
	MaxDimension = 4096
)

// RawUpload is the request payload exactly as the client declared it.
type RawUpload struct {
	Data        []byte
	ContentType string
	Filename    string
	Size        int64
}

// Image is an upload that passed every check. It is never modified after
// Validate returns it.
type Image struct {
	Decoded     image.Image
	Width       int
	Height      int
	Filename    string
	ContentType string
	Format      string
}

// Validator is stateless apart from its size limit and safe for concurrent
// use.
type Validator struct {
	maxBytes int64
}

// New returns a Validator enforcing maxBytes. Non-positive values fall back
// to DefaultMaxBytes.
func New(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{maxBytes: maxBytes}
}

func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate runs the checks in order and stops at the first failure. The
// returned error is always a *ValidationError.
func (v *Validator) Validate(raw RawUpload) (*Image, error) {
	if len(raw.Data) == 0 || strings.TrimSpace(raw.Filename) == "" || raw.Size <= 0 {
		return nil, newError(ErrMissingFile, "payload, filename and size are required")
	}

	size := int64(len(raw.Data))
	if raw.Size > size {
		size = raw.Size
	}
	if size > v.maxBytes {
		return nil, newError(ErrFileTooLarge, "%d bytes exceeds limit of %d", size, v.maxBytes)
	}

	contentType := NormalizeContentType(raw.ContentType)
	format, ok := lookupFormat(contentType)
	if !ok {
		return nil, newError(ErrUnsupportedType, "%q is not an accepted image type", raw.ContentType)
	}

	if ext := extension(raw.Filename); !format.acceptsExtension(ext) {
		return nil, newError(ErrTypeExtensionMismatch, "extension %q is not valid for %s", ext, format.ContentType)
	}

	decoded, err := decode(raw.Data, format)
	if err != nil {
		return nil, err
	}
	bounds := decoded.Bounds()

	filename, err := SanitizeFilename(raw.Filename)
	if err != nil {
		return nil, err
	}

	return &Image{
		Decoded:     decoded,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Filename:    filename,
		ContentType: format.ContentType,
		Format:      format.Name,
	}, nil
}

// decode verifies the payload belongs to format, checks its header
// dimensions, then performs the full decode from a fresh reader.
func decode(data []byte, format Format) (image.Image, error) {
	if detected := mimetype.Detect(data); !detected.Is(format.ContentType) {
		return nil, newError(ErrCorruptImage, "payload looks like %s, not %s", detected.String(), format.ContentType)
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, newError(ErrCorruptImage, "read header: %v", err)
	}
	if name != format.Name {
		return nil, newError(ErrCorruptImage, "payload decodes as %s, not %s", name, format.Name)
	}

	// Checked on the header so oversized images are never decompressed.
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, newError(ErrCorruptImage, "decode: %v", err)
	}
	b := img.Bounds()
	if err := checkDimensions(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	return img, nil
}

func checkDimensions(width, height int) error {
	switch {
	case width > MaxDimension || height > MaxDimension:
		return dimensionError(BoundTooLarge, width, height)
	case width < MinDimension || height < MinDimension:
		return dimensionError(BoundTooSmall, width, height)
	}
	return nil
}
