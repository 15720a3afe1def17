package storage

import (
	"fmt"
	"path"
	"strings"
)

const photoRoot = "intake"

// photoExtensions maps accepted upload content types to object extensions.
var photoExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
}

// AllowedPhotoContentTypes returns the upload content types accepted for item photos.
func AllowedPhotoContentTypes() []string {
	out := make([]string, 0, len(photoExtensions))
	for contentType := range photoExtensions {
		out = append(out, contentType)
	}
	return out
}

// PhotoPathParams identify one item photo object.
type PhotoPathParams struct {
	SessionID   string
	ItemID      string
	PhotoID     string
	ContentType string
}

// BuildPhotoObjectPath composes intake/{session}/{item}/{photo}.{ext}.
func BuildPhotoObjectPath(params PhotoPathParams) (string, error) {
	sessionID, err := validateSegment("sessionID", params.SessionID)
	if err != nil {
		return "", err
	}
	itemID, err := validateSegment("itemID", params.ItemID)
	if err != nil {
		return "", err
	}
	photoID, err := validateSegment("photoID", params.PhotoID)
	if err != nil {
		return "", err
	}
	ext, ok := photoExtensions[normaliseContentType(params.ContentType)]
	if !ok {
		return "", fmt.Errorf("storage: content type %q is not an accepted photo type", params.ContentType)
	}
	return fmt.Sprintf("%s/%s/%s/%s.%s", photoRoot, sessionID, itemID, photoID, ext), nil
}

// PhotoPrefix is the object prefix that holds every photo of one item.
func PhotoPrefix(sessionID, itemID string) (string, error) {
	sessionID, err := validateSegment("sessionID", sessionID)
	if err != nil {
		return "", err
	}
	itemID, err = validateSegment("itemID", itemID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/", photoRoot, sessionID, itemID), nil
}

// IsPhotoObjectPath reports whether objectPath is a well-formed photo key under the item's prefix.
func IsPhotoObjectPath(sessionID, itemID, objectPath string) bool {
	prefix, err := PhotoPrefix(sessionID, itemID)
	if err != nil {
		return false
	}
	objectPath = strings.TrimSpace(objectPath)
	if !strings.HasPrefix(objectPath, prefix) || path.Clean(objectPath) != objectPath {
		return false
	}
	name := strings.TrimPrefix(objectPath, prefix)
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" || strings.TrimSuffix(name, "."+ext) == "" {
		return false
	}
	for _, candidate := range photoExtensions {
		if candidate == ext {
			return true
		}
	}
	return false
}

func normaliseContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
