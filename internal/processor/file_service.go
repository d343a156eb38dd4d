// Package processor gives the transfer layer read access to source files:
// metadata, content fingerprints and byte ranges for chunks.
package processor

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"chunkup/internal/logging"
	"chunkup/pkg/types"
	"chunkup/pkg/utils"
)

var ErrNotRegularFile = errors.New("not a regular file")

// FileService handles basic file operations against a filesystem
type FileService struct {
	fs     afero.Fs
	logger *zap.Logger
}

// NewFileService creates a file service over fs. A nil fs uses the OS filesystem.
func NewFileService(fs afero.Fs, logger *zap.Logger) *FileService {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileService{
		fs:     fs,
		logger: logging.OrNop(logger),
	}
}

// Source is an opened description of a file that can hand out byte ranges.
// It does not keep a descriptor open between reads.
type Source struct {
	fs   afero.Fs
	path string
	meta types.FileMetadata
}

// Describe stats path, fingerprints its content and sniffs its MIME type
func (f *FileService) Describe(path string) (*Source, error) {
	stat, err := f.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}

	// Absolute paths only keep the file name on the remote side
	relativePath := filepath.ToSlash(filepath.Clean(path))
	if filepath.IsAbs(path) {
		relativePath = stat.Name()
	}
	identifier, err := Identifier(f.fs, path, relativePath, stat.Size())
	if err != nil {
		return nil, err
	}

	mimeType, err := f.detectMimeType(path)
	if err != nil {
		return nil, err
	}

	meta := types.FileMetadata{
		Identifier:   identifier,
		Name:         stat.Name(),
		RelativePath: relativePath,
		Size:         stat.Size(),
		MimeType:     mimeType,
	}

	f.logger.Debug("file described",
		zap.String("file", relativePath),
		zap.String("identifier", identifier),
		zap.String("size", utils.FormatFileSize(meta.Size)),
		zap.String("mime", mimeType))

	return &Source{fs: f.fs, path: path, meta: meta}, nil
}

func (f *FileService) detectMimeType(path string) (string, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		return "", fmt.Errorf("failed to detect content type: %w", err)
	}
	return mtype.String(), nil
}

// Metadata returns the file's metadata
func (s *Source) Metadata() types.FileMetadata {
	return s.meta
}

// Path returns the path the source was described from
func (s *Source) Path() string {
	return s.path
}

// OpenRange opens the half-open byte range [start, end) for reading
func (s *Source) OpenRange(start, end int64) (io.ReadCloser, error) {
	if start < 0 || end < start || end > s.meta.Size {
		return nil, fmt.Errorf("invalid range [%d, %d) for %d byte file", start, end, s.meta.Size)
	}

	file, err := s.fs.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return &rangeReader{
		SectionReader: io.NewSectionReader(file, start, end-start),
		file:          file,
	}, nil
}

type rangeReader struct {
	*io.SectionReader
	file afero.File
}

func (r *rangeReader) Close() error {
	return r.file.Close()
}
