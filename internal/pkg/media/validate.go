package media

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
)

var allowedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	// SVG is excluded: it can carry scripts
}

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var (
	ErrUnsupportedFormat = errors.New("only JPG, JPEG, PNG, GIF and WEBP images are supported")
	ErrScriptableContent = errors.New("html, xml and svg content is not allowed")
)

// ValidateImageBySniff checks the filename extension and the first bytes of
// the file against the image whitelist and returns the detected mime type.
func ValidateImageBySniff(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	byExt, ok := allowedExt[ext]
	if !ok {
		return "", ErrUnsupportedFormat
	}

	detected := http.DetectContentType(head)
	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") ||
		strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") ||
		detected == "image/svg+xml" {
		return "", ErrScriptableContent
	}

	if allowedMime[detected] {
		return detected, nil
	}
	// some encoders produce headers DetectContentType does not know
	if detected == "application/octet-stream" {
		return byExt, nil
	}
	return "", ErrUnsupportedFormat
}
