package validator

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameLength is measured in bytes.
const MaxFilenameLength = 255

const forbiddenFilenameChars = `<>:"|?*\/`

// baseName drops any directory components, treating both slash styles as
// separators regardless of the host OS.
func baseName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func extension(name string) string {
	return strings.ToLower(path.Ext(baseName(name)))
}

// SanitizeFilename strips path components from name and rejects anything
// that is unsafe to embed in a storage key.
func SanitizeFilename(name string) (string, error) {
	clean := baseName(name)
	switch {
	case clean == "" || clean == "." || clean == "..":
		return "", newError(ErrInvalidFilename, "filename %q has no usable base name", name)
	case len(clean) > MaxFilenameLength:
		return "", newError(ErrInvalidFilename, "filename is %d bytes, limit is %d", len(clean), MaxFilenameLength)
	case !utf8.ValidString(clean):
		return "", newError(ErrInvalidFilename, "filename is not valid UTF-8")
	case strings.ContainsAny(clean, forbiddenFilenameChars):
		return "", newError(ErrInvalidFilename, "filename %q contains one of %s", clean, forbiddenFilenameChars)
	}
	for _, r := range clean {
		if unicode.IsControl(r) {
			return "", newError(ErrInvalidFilename, "filename contains control character %U", r)
		}
	}
	return clean, nil
}
