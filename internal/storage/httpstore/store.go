// Package httpstore implements storage.Store against an HTTP chunk server
// that accepts multipart chunk uploads and answers with {code, message}.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"chunkup/internal/config"
	"chunkup/internal/logging"
	"chunkup/internal/storage"
)

// maxResponseSize bounds how much of a response body is decoded
const maxResponseSize = 1 << 20

// errAttemptDone stops the form writer once UploadChunk has returned
var errAttemptDone = errors.New("chunk upload finished")

// Store talks to the chunk server over HTTP
type Store struct {
	config *config.Config
	client *http.Client
	logger *zap.Logger
}

// New creates an HTTP store. A nil client uses http.DefaultClient.
func New(cfg *config.Config, client *http.Client, logger *zap.Logger) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{
		config: cfg,
		client: client,
		logger: logging.OrNop(logger).Named("httpstore"),
	}
}

type result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resumeResult struct {
	Code        *int                 `json:"code"`
	Message     string               `json:"message"`
	ChunkResult *storage.ResumeState `json:"chunkResult"`
}

// UploadChunk streams one chunk as a multipart form. The body is produced
// on a pipe, so progress follows what the transport has actually consumed.
func (s *Store) UploadChunk(ctx context.Context, req storage.ChunkRequest, body io.Reader, progress storage.ProgressFunc) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	target, err := s.withFolder(s.config.UploadURL)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(s.writeChunkForm(form, req, body, progress))
	}()
	// No progress call may outlive the attempt, even when the server
	// answers before consuming the whole body
	defer func() {
		pr.CloseWithError(errAttemptDone)
		<-written
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		return fmt.Errorf("failed to build chunk request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	s.setHeaders(httpReq)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to upload chunk %d: %w", req.ChunkNumber, err)
	}
	defer resp.Body.Close()

	var res result
	if err := s.decode(resp, &res); err != nil {
		return err
	}
	if !s.config.IsSuccessCode(res.Code) {
		return &storage.ResponseError{Code: res.Code, Message: res.Message}
	}

	s.logger.Debug("chunk accepted",
		zap.String("identifier", req.Identifier),
		zap.Int("chunk", req.ChunkNumber),
		zap.Int("code", res.Code))
	return nil
}

func (s *Store) writeChunkForm(form *multipart.Writer, req storage.ChunkRequest, body io.Reader, progress storage.ProgressFunc) error {
	fields := []struct {
		name  string
		value string
	}{
		{"chunkNumber", strconv.Itoa(req.ChunkNumber)},
		{"chunkSize", strconv.FormatInt(req.ChunkSize, 10)},
		{"currentChunkSize", strconv.FormatInt(req.CurrentChunkSize, 10)},
		{"totalSize", strconv.FormatInt(req.TotalSize, 10)},
		{"identifier", req.Identifier},
		{"filename", req.Filename},
		{"relativePath", req.RelativePath},
		{"totalChunks", strconv.Itoa(req.TotalChunks)},
	}
	for _, f := range fields {
		if err := form.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", f.name, err)
		}
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(s.config.FileParameterName), escapeQuotes(req.Filename)))
	header.Set("Content-Type", mimeType)

	part, err := form.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}

	counter := newProgressReader(body, req.CurrentChunkSize, progress)
	if _, err := io.Copy(part, counter); err != nil {
		return fmt.Errorf("failed to write chunk bytes: %w", err)
	}
	return form.Close()
}

// CheckResumable asks the server which chunks of the file it already holds
func (s *Store) CheckResumable(ctx context.Context, query storage.FileQuery) (storage.ResumeState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := url.Parse(s.config.ResumeCheckURL())
	if err != nil {
		return storage.ResumeState{}, fmt.Errorf("invalid check URL: %w", err)
	}
	q := u.Query()
	q.Set("identifier", query.Identifier)
	q.Set("filename", query.Name)
	q.Set("relativePath", query.RelativePath)
	q.Set("totalSize", strconv.FormatInt(query.Size, 10))
	q.Set("chunkSize", strconv.FormatInt(query.ChunkSize, 10))
	q.Set("totalChunks", strconv.Itoa(query.TotalChunks))
	q.Set("uploadFolderPath", s.config.UploadFolderPath)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return storage.ResumeState{}, fmt.Errorf("failed to build check request: %w", err)
	}
	s.setHeaders(httpReq)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return storage.ResumeState{}, fmt.Errorf("failed to check upload state: %w", err)
	}
	defer resp.Body.Close()

	var res resumeResult
	if err := s.decode(resp, &res); err != nil {
		return storage.ResumeState{}, err
	}
	if res.Code != nil && !s.config.IsSuccessCode(*res.Code) {
		return storage.ResumeState{}, &storage.ResponseError{Code: *res.Code, Message: res.Message}
	}
	if res.ChunkResult == nil {
		return storage.ResumeState{}, nil
	}
	return *res.ChunkResult, nil
}

// Merge asks the server to reassemble the file from its chunks
func (s *Store) Merge(ctx context.Context, req storage.MergeRequest) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	target, err := s.withFolder(s.config.MergeURL)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode merge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build merge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	s.setHeaders(httpReq)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to merge file: %w", err)
	}
	defer resp.Body.Close()

	var res result
	if err := s.decode(resp, &res); err != nil {
		return err
	}
	if !s.config.IsSuccessCode(res.Code) {
		return &storage.ResponseError{Code: res.Code, Message: res.Message}
	}
	return nil
}

func (s *Store) decode(resp *http.Response, v any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return &storage.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (s *Store) withFolder(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	q := u.Query()
	q.Set("uploadFolderPath", s.config.UploadFolderPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Store) setHeaders(req *http.Request) {
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
