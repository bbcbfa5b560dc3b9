package download

import (
	"mime"
	"strings"
)

// genericExt names files whose image type is not recognized
const genericExt = "img"

var extByMediaType = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/webp":    "webp",
	"image/gif":     "gif",
	"image/svg+xml": "svg",
}

// mediaType returns the lowercased media type of a Content-Type header, without parameters.
func mediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return strings.ToLower(mt)
	}
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsImageContentType reports whether a Content-Type header declares an image.
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// ExtensionForContentType maps a Content-Type to a file extension (no dot).
// The URL's own extension is never consulted; unknown image types get "img".
func ExtensionForContentType(contentType string) string {
	if ext, ok := extByMediaType[mediaType(contentType)]; ok {
		return ext
	}
	return genericExt
}
