package validator

import (
	"mime"
	"strings"

	// Decoders register themselves with image.Decode under these names.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format is one accepted image family.
type Format struct {
	// Name matches the format name reported by image.DecodeConfig.
	Name        string
	ContentType string
	Extensions  []string
}

var formats = []Format{
	{Name: "jpeg", ContentType: "image/jpeg", Extensions: []string{".jpg", ".jpeg", ".jpe"}},
	{Name: "png", ContentType: "image/png", Extensions: []string{".png"}},
	{Name: "webp", ContentType: "image/webp", Extensions: []string{".webp"}},
	{Name: "bmp", ContentType: "image/bmp", Extensions: []string{".bmp"}},
	{Name: "tiff", ContentType: "image/tiff", Extensions: []string{".tif", ".tiff"}},
}

var contentTypeAliases = map[string]string{
	"image/jpg":      "image/jpeg",
	"image/pjpeg":    "image/jpeg",
	"image/x-ms-bmp": "image/bmp",
	"image/x-bmp":    "image/bmp",
}

// Formats returns the accepted image families.
func Formats() []Format {
	out := make([]Format, len(formats))
	copy(out, formats)
	return out
}

// NormalizeContentType lower-cases a declared content type, drops its
// parameters and folds known aliases onto the canonical name.
func NormalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	contentType = strings.ToLower(contentType)
	if canonical, ok := contentTypeAliases[contentType]; ok {
		return canonical
	}
	return contentType
}

func lookupFormat(contentType string) (Format, bool) {
	for _, f := range formats {
		if f.ContentType == contentType {
			return f, true
		}
	}
	return Format{}, false
}

func (f Format) acceptsExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range f.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
