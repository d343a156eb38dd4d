// Package storage defines the contract between the transfer layer and the
// remote side that stores chunks, reports resumable state and merges parts.
package storage

import (
	"context"
	"fmt"
	"io"

	"chunkup/pkg/types"
)

// ProgressFunc is called by a Store as chunk bytes leave the process
type ProgressFunc func(sent, total int64)

// ChunkRequest carries the chunk-plan fields sent with every chunk
type ChunkRequest struct {
	ChunkNumber      int    `json:"chunkNumber"` // 1-based
	ChunkSize        int64  `json:"chunkSize"`
	CurrentChunkSize int64  `json:"currentChunkSize"`
	TotalSize        int64  `json:"totalSize"`
	Identifier       string `json:"identifier"`
	Filename         string `json:"filename"`
	RelativePath     string `json:"relativePath"`
	TotalChunks      int    `json:"totalChunks"`
	MimeType         string `json:"-"`
}

// ResumeState is the remote view of how much of a file is already stored
type ResumeState struct {
	SkipUpload     bool  `json:"skipUpload"`
	UploadedChunks []int `json:"uploadedChunkList"`
}

// Skip returns how many leading chunks can be skipped
func (r ResumeState) Skip() int {
	return len(r.UploadedChunks)
}

// MergeRequest asks the remote side to reassemble a file from its chunks
type MergeRequest struct {
	Identifier   string `json:"identifier"`
	Filename     string `json:"filename"`
	RelativePath string `json:"relativePath"`
	TotalSize    int64  `json:"totalSize"`
	TotalChunks  int    `json:"totalChunks"`
}

// FileQuery describes a file for the resume check
type FileQuery struct {
	types.FileMetadata
	ChunkSize   int64
	TotalChunks int
}

// Store is the storage collaborator
type Store interface {
	// UploadChunk sends one chunk. The call must stop promptly when ctx is cancelled.
	UploadChunk(ctx context.Context, req ChunkRequest, body io.Reader, progress ProgressFunc) error
	// CheckResumable reports what the remote side already holds for a file
	CheckResumable(ctx context.Context, query FileQuery) (ResumeState, error)
	// Merge reassembles every chunk of a file at its destination
	Merge(ctx context.Context, req MergeRequest) error
}

// ResponseError is an application-level failure: the call went through but
// the response code is not one of the configured success codes.
type ResponseError struct {
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%d:%s", e.Code, e.Message)
}

// StatusError is a transport-level failure with a non-2xx HTTP status
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}
