package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a URL-safe hex string ID for records.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewMediaKey returns a fresh object name for uploaded media, deriving the
// extension from the content type ("image/png" -> "<uuid>.png").
func NewMediaKey(contentType string) string {
	ext := "bin"
	if idx := strings.LastIndex(contentType, "/"); idx >= 0 && idx < len(contentType)-1 {
		ext = contentType[idx+1:]
	}
	return uuid.NewString() + "." + ext
}
