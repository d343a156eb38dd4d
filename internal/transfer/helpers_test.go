package transfer

import (
	"bytes"
	"context"
	"io"
	"sync"

	"chunkup/internal/config"
	"chunkup/internal/storage"
	"chunkup/pkg/types"
)

type memSource struct {
	data []byte
	meta types.FileMetadata
}

func newMemSource(id string, size int) *memSource {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &memSource{
		data: data,
		meta: types.FileMetadata{Identifier: id, Name: id + ".bin", RelativePath: id + ".bin", Size: int64(size)},
	}
}

func (s *memSource) Metadata() types.FileMetadata { return s.meta }

func (s *memSource) OpenRange(start, end int64) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data[start:end])), nil
}

// fakeStore records calls; uploadFn decides each chunk's outcome
type fakeStore struct {
	mu       sync.Mutex
	resume   storage.ResumeState
	checkErr error
	mergeErr error
	uploadFn func(ctx context.Context, req storage.ChunkRequest) error
	stepwise bool // report progress after every byte

	uploads  []storage.ChunkRequest
	received map[int][]byte
	merges   []storage.MergeRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{received: make(map[int][]byte)}
}

func (f *fakeStore) UploadChunk(ctx context.Context, req storage.ChunkRequest, body io.Reader, progress storage.ProgressFunc) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.uploads = append(f.uploads, req)
	fn := f.uploadFn
	f.mu.Unlock()

	if progress != nil && f.stepwise {
		for i := 1; i < len(data); i++ {
			progress(int64(i), int64(len(data)))
		}
	} else if progress != nil {
		progress(int64(len(data))/2, int64(len(data)))
	}
	if fn != nil {
		if err := fn(ctx, req); err != nil {
			return err
		}
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}

	f.mu.Lock()
	f.received[req.ChunkNumber] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) CheckResumable(ctx context.Context, _ storage.FileQuery) (storage.ResumeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resume, f.checkErr
}

func (f *fakeStore) Merge(_ context.Context, req storage.MergeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, req)
	return f.mergeErr
}

func (f *fakeStore) uploadedNumbers() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.uploads))
	for _, u := range f.uploads {
		out = append(out, u.ChunkNumber)
	}
	return out
}

func (f *fakeStore) mergeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.merges)
}

func testConfig(chunkSize int64) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.ChunkSize = chunkSize
	return cfg
}
