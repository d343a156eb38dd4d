package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chunkup/internal/config"
	"chunkup/internal/storage"
	"chunkup/pkg/types"
)

var errUnavailable = errors.New("service unavailable")

func newTestChunk(cfg *config.Config, store storage.Store, size int) *Chunk {
	src := newMemSource("chunk-file", size)
	env := &chunkEnv{
		config:      cfg,
		store:       store,
		source:      src,
		meta:        src.meta,
		totalChunks: cfg.TotalChunks(src.meta.Size),
		logger:      zap.NewNop(),
	}
	return newChunk(env, PlanChunks(src.meta.Size, cfg.ChunkSize, 0)[0])
}

func TestChunk_Success(t *testing.T) {
	store := newFakeStore()
	c := newTestChunk(testConfig(8), store, 20)

	var statuses []types.Status
	c.Events().Subscribe(func(ev ChunkEvent) { statuses = append(statuses, ev.Status) })

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, types.StatusSuccess, c.Status())
	assert.Equal(t, int64(8), c.Contribution())
	assert.Zero(t, c.MeasureSpeed())
	assert.Equal(t, types.StatusProgress, statuses[0])
	assert.Equal(t, types.StatusSuccess, statuses[len(statuses)-1])

	require.Len(t, store.uploads, 1)
	req := store.uploads[0]
	assert.Equal(t, 1, req.ChunkNumber)
	assert.Equal(t, int64(8), req.ChunkSize)
	assert.Equal(t, int64(8), req.CurrentChunkSize)
	assert.Equal(t, int64(20), req.TotalSize)
	assert.Equal(t, 3, req.TotalChunks)
	assert.Equal(t, "chunk-file", req.Identifier)
}

func TestChunk_FailsAfterRetryBudget(t *testing.T) {
	cfg := testConfig(8)
	cfg.MaxChunkRetries = 3

	store := newFakeStore()
	store.uploadFn = func(context.Context, storage.ChunkRequest) error { return errUnavailable }
	c := newTestChunk(cfg, store, 8)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errUnavailable)
	assert.ErrorContains(t, err, "after 4 attempts")

	assert.Len(t, store.uploads, 4)
	assert.Equal(t, 3, c.RetryCount())
	assert.Equal(t, types.StatusError, c.Status())
	assert.ErrorIs(t, c.Err(), errUnavailable)

	c.Abort()
	assert.Equal(t, types.StatusError, c.Status(), "permanent failure is terminal")
}

func TestChunk_SucceedsOnRetry(t *testing.T) {
	cfg := testConfig(8)
	cfg.MaxChunkRetries = 3

	attempts := 0
	store := newFakeStore()
	store.uploadFn = func(context.Context, storage.ChunkRequest) error {
		attempts++
		if attempts < 3 {
			return &storage.ResponseError{Code: 50000, Message: "busy"}
		}
		return nil
	}
	c := newTestChunk(cfg, store, 8)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, c.RetryCount())
	assert.Equal(t, types.StatusSuccess, c.Status())
	assert.NoError(t, c.Err())
}

func TestChunk_NoRetries(t *testing.T) {
	cfg := testConfig(8)
	cfg.MaxChunkRetries = 0

	store := newFakeStore()
	store.uploadFn = func(context.Context, storage.ChunkRequest) error { return errUnavailable }
	c := newTestChunk(cfg, store, 8)

	assert.ErrorIs(t, c.Run(context.Background()), ErrRetriesExhausted)
	assert.Len(t, store.uploads, 1)
}

func TestChunk_InvalidTransitions(t *testing.T) {
	c := newTestChunk(testConfig(8), newFakeStore(), 8)
	assert.ErrorIs(t, c.Retry(context.Background()), ErrInvalidTransition)

	require.NoError(t, c.Send(context.Background()))
	assert.ErrorIs(t, c.Send(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, c.Retry(context.Background()), ErrInvalidTransition)

	c.Abort()
	assert.Equal(t, types.StatusSuccess, c.Status(), "abort after success is a no-op")
}

func TestChunk_AbortInFlight(t *testing.T) {
	store := newFakeStore()
	store.uploadFn = func(ctx context.Context, _ storage.ChunkRequest) error {
		<-ctx.Done()
		return ctx.Err()
	}
	c := newTestChunk(testConfig(8), store, 8)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return c.BytesTransferred() > 0 }, time.Second, 5*time.Millisecond)
	assert.Greater(t, c.MeasureSpeed(), 0.0)
	assert.Equal(t, int64(4), c.Contribution())

	c.Abort()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("abort did not cancel the upload")
	}
	assert.Equal(t, types.StatusAbort, c.Status())
	assert.Zero(t, c.Contribution())
	assert.ErrorIs(t, c.Send(context.Background()), ErrAborted)
}

func TestChunk_AbortDuringRetryDelay(t *testing.T) {
	cfg := testConfig(8)
	cfg.ChunkRetryInterval = time.Hour
	cfg.ChunkRetryMaxInterval = time.Hour

	store := newFakeStore()
	store.uploadFn = func(context.Context, storage.ChunkRequest) error { return errUnavailable }
	c := newTestChunk(cfg, store, 8)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return c.Status() == types.StatusRetry }, time.Second, 5*time.Millisecond)
	c.Abort()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("abort did not interrupt the retry delay")
	}
	assert.Len(t, store.uploads, 1)
}

func TestChunk_ContextCancelled(t *testing.T) {
	store := newFakeStore()
	store.uploadFn = func(ctx context.Context, _ storage.ChunkRequest) error {
		<-ctx.Done()
		return ctx.Err()
	}
	c := newTestChunk(testConfig(8), store, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Run(ctx), ErrAborted)
	assert.Equal(t, types.StatusAbort, c.Status())
	assert.Len(t, store.uploads, 1)
}

func TestNewRetryBackOff(t *testing.T) {
	cfg := testConfig(8)
	assert.Zero(t, newRetryBackOff(cfg).NextBackOff())

	cfg.ChunkRetryInterval = 100 * time.Millisecond
	cfg.ChunkRetryMaxInterval = 200 * time.Millisecond
	b := newRetryBackOff(cfg)
	for range 10 {
		d := b.NextBackOff()
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}
