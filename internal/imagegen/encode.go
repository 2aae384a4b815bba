package imagegen

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"tryon/internal/domain"
)

// DetectImage sniffs data and reports its MIME type and file extension. The
// declared type is only used when sniffing is inconclusive.
func DetectImage(data []byte, declared string) (mime string, ext string, ok bool) {
	if len(data) == 0 {
		return "", "", false
	}
	detected := mimetype.Detect(data)
	mime = detected.String()
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if !strings.HasPrefix(mime, "image/") {
		declared = strings.ToLower(strings.TrimSpace(declared))
		if detected.Is("application/octet-stream") && strings.HasPrefix(declared, "image/") {
			return declared, extensionForMIME(declared), true
		}
		return "", "", false
	}
	ext = detected.Extension()
	if ext == "" {
		ext = extensionForMIME(mime)
	}
	return mime, ext, true
}

// EncodeDataURI renders an image as a base64 data URI. Empty or non-image
// payloads fail with domain.ErrEncoding.
func EncodeDataURI(img domain.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", domain.ErrEncoding, imageName(img))
	}
	mime, _, ok := DetectImage(img.Data, img.MIMEType)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a readable image", domain.ErrEncoding, imageName(img))
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data), nil
}

func imageName(img domain.Image) string {
	if name := strings.TrimSpace(img.Name); name != "" {
		return name
	}
	return "image"
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/avif":
		return ".avif"
	case "image/heic":
		return ".heic"
	default:
		return ".bin"
	}
}
