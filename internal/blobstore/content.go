package blobstore

import (
	"fmt"
	"unicode/utf8"
)

const (
	sniffRunes   = 100
	previewRunes = 200

	contentTypeText   = "text/plain"
	contentTypeBinary = "application/octet-stream"
)

// IsText reports whether data decodes as UTF-8 and its first 100 characters
// hold no control characters other than tab, newline, vertical tab, form
// feed and carriage return.
func IsText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	n := 0
	for _, r := range string(data) {
		if n == sniffRunes {
			break
		}
		if r <= 0x08 || (r >= 0x0E && r <= 0x1F) || r == 0x7F {
			return false
		}
		n++
	}
	return true
}

// SniffContentType returns text/plain for non-empty text and
// application/octet-stream otherwise. Empty content sniffs as binary.
func SniffContentType(data []byte) string {
	if len(data) > 0 && IsText(data) {
		return contentTypeText
	}
	return contentTypeBinary
}

// Preview is the searchable excerpt stored in the index.
func Preview(data []byte) string {
	if !IsText(data) {
		return fmt.Sprintf("Binary data (%d bytes)", len(data))
	}
	n := 0
	for i := range string(data) {
		if n == previewRunes {
			return string(data[:i]) + "..."
		}
		n++
	}
	return string(data)
}
