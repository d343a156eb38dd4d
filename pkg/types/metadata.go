package types

// FileMetadata contains information about the file being transferred
type FileMetadata struct {
	Identifier   string `json:"identifier"`   // Stable fingerprint of size, path and content
	Name         string `json:"filename"`     // Base filename
	RelativePath string `json:"relativePath"` // Path as supplied by the caller
	Size         int64  `json:"totalSize"`    // File size in bytes
	MimeType     string `json:"mimeType"`     // Sniffed MIME type of the content
}
