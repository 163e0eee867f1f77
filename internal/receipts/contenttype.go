// Package receipts stores receipt binaries and normalizes their metadata.
package receipts

import "strings"

// extensions maps normalized content types to filename extensions.
var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
}

// NormalizeContentType strips MIME parameters and whitespace so storage and
// validation see one canonical form. "application/pdf; charset=binary"
// normalizes to "application/pdf".
func NormalizeContentType(contentType string) string {
	normalized := contentType
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = normalized[:idx]
	}
	return strings.ToLower(strings.TrimSpace(normalized))
}

// extensionFor returns the filename extension for a content type, defaulting
// to .bin for types we do not recognize.
func extensionFor(contentType string) string {
	if ext, ok := extensions[NormalizeContentType(contentType)]; ok {
		return ext
	}
	return ".bin"
}
