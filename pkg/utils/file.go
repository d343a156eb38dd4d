package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FormatFileSize renders a byte count using binary units
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

// FileExtension returns the extension of name without the leading dot.
// "archive.tar.gz" yields "gz"; names without a dot yield "".
func FileExtension(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	return strings.TrimPrefix(ext, ".")
}
