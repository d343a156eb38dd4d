// Package s3store implements storage.Store on top of S3 multipart uploads.
// Every chunk is one part; merging completes the multipart upload.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"chunkup/internal/config"
	"chunkup/internal/logging"
	"chunkup/internal/storage"
)

// identifierKey is the object metadata key holding the file identifier
const identifierKey = "identifier"

// S3API is the subset of the S3 client used by the store
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store keeps one multipart upload per file identifier
type Store struct {
	config *config.Config
	client S3API
	logger *zap.Logger

	mu      sync.Mutex
	uploads map[string]string // identifier -> upload ID
}

// New builds a store from the default AWS credential chain
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3.ForcePathStyle
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
	})
	return NewWithClient(cfg, client, logger), nil
}

// NewWithClient builds a store around an existing client
func NewWithClient(cfg *config.Config, client S3API, logger *zap.Logger) *Store {
	return &Store{
		config:  cfg,
		client:  client,
		logger:  logging.OrNop(logger).Named("s3store"),
		uploads: make(map[string]string),
	}
}

// objectKey maps a relative path to its destination key
func (s *Store) objectKey(relativePath string) string {
	key := path.Join(s.config.S3.KeyPrefix, s.config.UploadFolderPath, relativePath)
	return strings.TrimPrefix(key, "/")
}

// UploadChunk uploads the chunk as part number req.ChunkNumber
func (s *Store) UploadChunk(ctx context.Context, req storage.ChunkRequest, body io.Reader, progress storage.ProgressFunc) error {
	key := s.objectKey(req.RelativePath)
	uploadID, err := s.ensureUpload(ctx, key, req)
	if err != nil {
		return err
	}

	// The SDK may rewind the body for signing and checksums, so the chunk
	// is held in memory as a seekable reader.
	buf, err := io.ReadAll(io.LimitReader(body, req.CurrentChunkSize))
	if err != nil {
		return fmt.Errorf("failed to read chunk %d: %w", req.ChunkNumber, err)
	}

	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.config.S3.Bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(req.ChunkNumber)),
		ContentLength: aws.Int64(int64(len(buf))),
		Body:          newCountingReader(buf, progress),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", req.ChunkNumber, err)
	}

	s.logger.Debug("part uploaded",
		zap.String("identifier", req.Identifier),
		zap.String("key", key),
		zap.Int("part", req.ChunkNumber),
		zap.String("etag", aws.ToString(out.ETag)))
	return nil
}

// CheckResumable reports a finished object as SkipUpload, otherwise the
// contiguous run of parts 1..k already held by the in-progress upload.
func (s *Store) CheckResumable(ctx context.Context, query storage.FileQuery) (storage.ResumeState, error) {
	key := s.objectKey(query.RelativePath)

	done, err := s.objectComplete(ctx, key, query.Identifier)
	if err != nil {
		return storage.ResumeState{}, err
	}
	if done {
		return storage.ResumeState{SkipUpload: true}, nil
	}

	uploadID, err := s.lookupUpload(ctx, key, query.Identifier)
	if err != nil {
		return storage.ResumeState{}, err
	}
	if uploadID == "" {
		return storage.ResumeState{}, nil
	}

	parts, err := s.listParts(ctx, key, uploadID)
	if err != nil {
		return storage.ResumeState{}, err
	}

	var uploaded []int
	for i, part := range parts {
		if int(aws.ToInt32(part.PartNumber)) != i+1 || i+1 > query.TotalChunks {
			break
		}
		uploaded = append(uploaded, i+1)
	}
	return storage.ResumeState{UploadedChunks: uploaded}, nil
}

// Merge completes the multipart upload once every part is present
func (s *Store) Merge(ctx context.Context, req storage.MergeRequest) error {
	key := s.objectKey(req.RelativePath)
	uploadID, err := s.lookupUpload(ctx, key, req.Identifier)
	if err != nil {
		return err
	}
	if uploadID == "" {
		return fmt.Errorf("no multipart upload in progress for %s", key)
	}

	parts, err := s.listParts(ctx, key, uploadID)
	if err != nil {
		return err
	}
	if len(parts) != req.TotalChunks {
		return fmt.Errorf("expected %d parts for %s, found %d", req.TotalChunks, key, len(parts))
	}

	completed := make([]awstypes.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, awstypes.CompletedPart{
			ETag:       part.ETag,
			PartNumber: part.PartNumber,
		})
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.config.S3.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	s.mu.Lock()
	delete(s.uploads, req.Identifier)
	s.mu.Unlock()

	s.logger.Info("multipart upload completed",
		zap.String("identifier", req.Identifier),
		zap.String("key", key),
		zap.Int("parts", len(completed)))
	return nil
}

func (s *Store) objectComplete(ctx context.Context, key, identifier string) (bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect %s: %w", key, err)
	}
	return out.Metadata[identifierKey] == identifier, nil
}

// ensureUpload returns the upload for the chunk's file, creating one if needed
func (s *Store) ensureUpload(ctx context.Context, key string, req storage.ChunkRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.uploads[req.Identifier]; ok {
		return id, nil
	}

	id, err := s.findUpload(ctx, key)
	if err != nil {
		return "", err
	}
	if id == "" {
		input := &s3.CreateMultipartUploadInput{
			Bucket:   aws.String(s.config.S3.Bucket),
			Key:      aws.String(key),
			Metadata: map[string]string{identifierKey: req.Identifier},
		}
		if req.MimeType != "" {
			input.ContentType = aws.String(req.MimeType)
		}
		out, err := s.client.CreateMultipartUpload(ctx, input)
		if err != nil {
			return "", fmt.Errorf("failed to create multipart upload: %w", err)
		}
		id = aws.ToString(out.UploadId)
		s.logger.Debug("multipart upload created", zap.String("key", key), zap.String("upload_id", id))
	}

	s.uploads[req.Identifier] = id
	return id, nil
}

// lookupUpload returns the known upload for a file, or "" when none exists
func (s *Store) lookupUpload(ctx context.Context, key, identifier string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.uploads[identifier]; ok {
		return id, nil
	}
	id, err := s.findUpload(ctx, key)
	if err != nil {
		return "", err
	}
	if id != "" {
		s.uploads[identifier] = id
	}
	return id, nil
}

// findUpload picks the newest in-progress upload for exactly key
func (s *Store) findUpload(ctx context.Context, key string) (string, error) {
	input := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.config.S3.Bucket),
		Prefix: aws.String(key),
	}

	var newest *awstypes.MultipartUpload
	for {
		out, err := s.client.ListMultipartUploads(ctx, input)
		if err != nil {
			return "", fmt.Errorf("failed to list multipart uploads: %w", err)
		}
		for i := range out.Uploads {
			upload := &out.Uploads[i]
			if aws.ToString(upload.Key) != key {
				continue
			}
			if newest == nil || aws.ToTime(upload.Initiated).After(aws.ToTime(newest.Initiated)) {
				newest = upload
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}

	if newest == nil {
		return "", nil
	}
	return aws.ToString(newest.UploadId), nil
}

// listParts returns every uploaded part sorted by part number
func (s *Store) listParts(ctx context.Context, key, uploadID string) ([]awstypes.Part, error) {
	input := &s3.ListPartsInput{
		Bucket:   aws.String(s.config.S3.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}

	var parts []awstypes.Part
	for {
		out, err := s.client.ListParts(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list parts: %w", err)
		}
		parts = append(parts, out.Parts...)
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.PartNumberMarker = out.NextPartNumberMarker
	}

	slices.SortFunc(parts, func(a, b awstypes.Part) int {
		return int(aws.ToInt32(a.PartNumber)) - int(aws.ToInt32(b.PartNumber))
	})
	return parts, nil
}

func isNotFound(err error) bool {
	var notFound *awstypes.NotFound
	var noSuchKey *awstypes.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

// countingReader reports the furthest offset read. Rewinds do not move
// progress backwards.
type countingReader struct {
	*bytes.Reader
	total    int64
	reported int64
	fn       storage.ProgressFunc
}

func newCountingReader(buf []byte, fn storage.ProgressFunc) *countingReader {
	return &countingReader{Reader: bytes.NewReader(buf), total: int64(len(buf)), fn: fn}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	if pos := c.total - int64(c.Reader.Len()); pos > c.reported {
		c.reported = pos
		if c.fn != nil {
			c.fn(c.reported, c.total)
		}
	}
	return n, err
}
