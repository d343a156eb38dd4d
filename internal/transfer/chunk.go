package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"chunkup/internal/config"
	"chunkup/internal/events"
	"chunkup/internal/storage"
	"chunkup/pkg/types"
)

// Source gives access to the bytes of the file being transferred
type Source interface {
	Metadata() types.FileMetadata
	OpenRange(start, end int64) (io.ReadCloser, error)
}

// ChunkEvent reports a chunk state or progress change
type ChunkEvent struct {
	Index            int
	Status           types.Status
	BytesTransferred int64
	BytesTotal       int64
	Err              error
}

// chunkEnv is what the chunks of one task share
type chunkEnv struct {
	config      *config.Config
	store       storage.Store
	source      Source
	meta        types.FileMetadata
	totalChunks int
	logger      *zap.Logger
}

// Chunk is one byte range of a file with its own transfer state machine:
//
//	PENDING -> PROGRESS -> SUCCESS | ERROR
//	ERROR -> RETRY -> PENDING -> PROGRESS
//	PENDING | PROGRESS | RETRY -> ABORT
type Chunk struct {
	env    *chunkEnv
	rng    Range
	logger *zap.Logger
	events events.Bus[ChunkEvent]

	mu               sync.Mutex
	status           types.Status
	bytesTransferred int64
	bytesTotal       int64
	startedAt        time.Time
	retryCount       int
	exhausted        bool
	lastErr          error
	cancel           context.CancelFunc
	backoff          backoff.BackOff
}

func newChunk(env *chunkEnv, rng Range) *Chunk {
	return &Chunk{
		env:        env,
		rng:        rng,
		logger:     env.logger.With(zap.Int("chunk", rng.Index+1)),
		status:     types.StatusPending,
		bytesTotal: rng.Size(),
		backoff:    newRetryBackOff(env.config),
	}
}

func newRetryBackOff(cfg *config.Config) backoff.BackOff {
	if cfg.ChunkRetryInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ChunkRetryInterval
	if cfg.ChunkRetryMaxInterval > 0 {
		b.MaxInterval = max(cfg.ChunkRetryMaxInterval, cfg.ChunkRetryInterval)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Events returns the chunk's event bus
func (c *Chunk) Events() *events.Bus[ChunkEvent] {
	return &c.events
}

// Index returns the 0-based chunk index
func (c *Chunk) Index() int {
	return c.rng.Index
}

// Range returns the chunk's byte range
func (c *Chunk) Range() Range {
	return c.rng
}

// Status returns the current state
func (c *Chunk) Status() types.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RetryCount returns how many retries have been issued
func (c *Chunk) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// BytesTransferred returns the bytes sent in the current attempt
func (c *Chunk) BytesTransferred() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesTransferred
}

// Err returns the failure of the last attempt, if any
func (c *Chunk) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Contribution is how many bytes the chunk adds to its task's progress
func (c *Chunk) Contribution() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case types.StatusSuccess:
		return c.rng.Size()
	case types.StatusProgress:
		return c.bytesTransferred
	default:
		return 0
	}
}

// MeasureSpeed returns bytes per second since this chunk's attempt started,
// or 0 when the chunk is not in flight.
func (c *Chunk) MeasureSpeed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != types.StatusProgress {
		return 0
	}
	elapsed := time.Since(c.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(c.bytesTransferred) / elapsed
}

// markComplete records a chunk confirmed by an earlier run
func (c *Chunk) markComplete() {
	c.mu.Lock()
	c.status = types.StatusSuccess
	c.bytesTransferred = c.rng.Size()
	c.mu.Unlock()
}

// Run sends the chunk and retries it until it succeeds, is aborted or
// exhausts the retry budget.
func (c *Chunk) Run(ctx context.Context) error {
	err := c.Send(ctx)
	for err != nil && !errors.Is(err, ErrAborted) {
		c.logger.Warn("chunk attempt failed",
			zap.Int("attempt", c.RetryCount()+1),
			zap.Error(err))

		retryErr := c.Retry(ctx)
		if errors.Is(retryErr, ErrRetriesExhausted) {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.RetryCount()+1, err)
		}
		err = retryErr
	}
	return err
}

// Send issues one upload attempt. It is legal only from PENDING.
func (c *Chunk) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.status == types.StatusAbort {
		c.mu.Unlock()
		return ErrAborted
	}
	if c.status != types.StatusPending {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: send from %s", ErrInvalidTransition, status)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel
	c.status = types.StatusProgress
	c.bytesTransferred = 0
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.publish()

	err := c.upload(ctx)

	c.mu.Lock()
	c.cancel = nil
	switch {
	case c.status == types.StatusAbort:
		err = ErrAborted
	case err == nil:
		c.status = types.StatusSuccess
		c.bytesTransferred = c.rng.Size()
		c.lastErr = nil
	case ctx.Err() != nil:
		c.status = types.StatusAbort
		err = ErrAborted
	default:
		c.status = types.StatusError
		c.lastErr = err
	}
	c.mu.Unlock()
	c.publish()
	return err
}

// Retry re-sends a failed chunk after the retry delay. It is legal only
// from ERROR and returns ErrRetriesExhausted once the budget is used up.
func (c *Chunk) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.status == types.StatusAbort {
		c.mu.Unlock()
		return ErrAborted
	}
	if c.status != types.StatusError {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, status)
	}
	if c.retryCount >= c.env.config.MaxChunkRetries {
		c.exhausted = true
		c.mu.Unlock()
		return ErrRetriesExhausted
	}
	c.retryCount++
	c.status = types.StatusRetry
	delay := c.backoff.NextBackOff()
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel
	c.mu.Unlock()
	c.publish()

	waitErr := sleep(waitCtx, delay)

	c.mu.Lock()
	c.cancel = nil
	if c.status == types.StatusAbort || waitErr != nil {
		c.status = types.StatusAbort
		c.mu.Unlock()
		c.publish()
		return ErrAborted
	}
	c.status = types.StatusPending
	c.mu.Unlock()

	return c.Send(ctx)
}

// Abort cancels an in-flight attempt or pending retry. It is a no-op once
// the chunk succeeded or failed permanently.
func (c *Chunk) Abort() {
	c.mu.Lock()
	if c.status == types.StatusSuccess || c.status == types.StatusAbort ||
		(c.status == types.StatusError && c.exhausted) {
		c.mu.Unlock()
		return
	}
	c.status = types.StatusAbort
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.publish()
}

func (c *Chunk) upload(ctx context.Context) error {
	body, err := c.env.source.OpenRange(c.rng.Start, c.rng.End)
	if err != nil {
		return err
	}
	defer body.Close()

	req := storage.ChunkRequest{
		ChunkNumber:      c.rng.Index + 1,
		ChunkSize:        c.env.config.ChunkSize,
		CurrentChunkSize: c.rng.Size(),
		TotalSize:        c.env.meta.Size,
		Identifier:       c.env.meta.Identifier,
		Filename:         c.env.meta.Name,
		RelativePath:     c.env.meta.RelativePath,
		TotalChunks:      c.env.totalChunks,
		MimeType:         c.env.meta.MimeType,
	}
	return c.env.store.UploadChunk(ctx, req, body, c.onProgress)
}

func (c *Chunk) onProgress(sent, total int64) {
	c.mu.Lock()
	if c.status != types.StatusProgress {
		c.mu.Unlock()
		return
	}
	if total > 0 {
		c.bytesTotal = total
	}
	c.bytesTransferred = max(c.bytesTransferred, min(sent, c.rng.Size()))
	c.mu.Unlock()
	c.publish()
}

func (c *Chunk) publish() {
	c.mu.Lock()
	ev := ChunkEvent{
		Index:            c.rng.Index,
		Status:           c.status,
		BytesTransferred: c.bytesTransferred,
		BytesTotal:       c.bytesTotal,
		Err:              c.lastErr,
	}
	c.mu.Unlock()
	c.events.Publish(ev)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
