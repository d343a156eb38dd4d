package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chunkup/internal/config"
	"chunkup/internal/events"
	"chunkup/internal/logging"
	"chunkup/internal/storage"
	"chunkup/pkg/types"
)

// Task transfers one file: it checks what the remote side already holds,
// plans the remaining chunks, sends them through a bounded window and
// merges them once every chunk succeeded.
type Task struct {
	env    *chunkEnv
	logger *zap.Logger
	events events.Bus[types.FileInfo]

	runMu sync.Mutex // one run at a time
	pubMu sync.Mutex // snapshots reach listeners in the order they were taken

	mu        sync.Mutex
	status    types.Status
	chunks    []*Chunk
	skipped   int
	completed map[int]struct{} // chunk indices confirmed by earlier runs
	lastErr   error
	present   bool // the last run found the file already on the server
	cancel    context.CancelFunc
	runs      uint64 // number of runs started
}

// NewTask creates a PENDING task for source
func NewTask(source Source, store storage.Store, cfg *config.Config, logger *zap.Logger) *Task {
	meta := source.Metadata()
	logger = logging.OrNop(logger).With(
		zap.String("identifier", meta.Identifier),
		zap.String("file", meta.Name))

	return &Task{
		env: &chunkEnv{
			config:      cfg,
			store:       store,
			source:      source,
			meta:        meta,
			totalChunks: cfg.TotalChunks(meta.Size),
			logger:      logger,
		},
		logger:    logger,
		status:    types.StatusPending,
		completed: make(map[int]struct{}),
	}
}

// Events returns the bus carrying the task's progress snapshots
func (t *Task) Events() *events.Bus[types.FileInfo] {
	return &t.events
}

// Identifier returns the file identifier
func (t *Task) Identifier() string {
	return t.env.meta.Identifier
}

// Metadata returns the file metadata
func (t *Task) Metadata() types.FileMetadata {
	return t.env.meta
}

// TotalChunks returns the number of chunks in the full plan
func (t *Task) TotalChunks() int {
	return t.env.totalChunks
}

// Status returns the task state
func (t *Task) Status() types.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns why the last run failed
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// AlreadyPresent reports whether the last run skipped the upload because
// the server already held the whole file
func (t *Task) AlreadyPresent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.present
}

// Chunks returns the chunks of the current plan
func (t *Task) Chunks() []*Chunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Chunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// Run performs one transfer attempt of the whole file. It returns nil on
// success, ErrAborted when cancelled, or an *Error.
func (t *Task) Run(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	t.runs++
	t.status = types.StatusProgress
	t.lastErr = nil
	t.present = false
	t.cancel = cancel
	t.mu.Unlock()
	t.publish()

	err := t.run(ctx)
	if err != nil && ctx.Err() != nil {
		err = ErrAborted
	}
	t.finish(err)
	return err
}

func (t *Task) run(ctx context.Context) error {
	state, err := t.CheckResumable(ctx)
	if err != nil {
		return &Error{Op: "check", Identifier: t.Identifier(), Err: err}
	}
	if state.SkipUpload {
		t.logger.Info("file already present on server")
		t.mu.Lock()
		t.present = true
		t.mu.Unlock()
		return nil
	}

	t.GenerateChunks(state.Skip())
	return t.RunConcurrent(ctx, t.env.config.SimultaneousUploads)
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.cancel = nil
	switch {
	case err == nil:
		t.status = types.StatusSuccess
		t.chunks = nil
	case errors.Is(err, ErrAborted):
		t.status = types.StatusAbort
	default:
		t.status = types.StatusError
		t.lastErr = err
	}
	t.mu.Unlock()
	t.publish()
}

// CheckResumable asks the store what it already holds for the file
func (t *Task) CheckResumable(ctx context.Context) (storage.ResumeState, error) {
	return t.env.store.CheckResumable(ctx, storage.FileQuery{
		FileMetadata: t.env.meta,
		ChunkSize:    t.env.config.ChunkSize,
		TotalChunks:  t.env.totalChunks,
	})
}

// GenerateChunks builds chunks for indices [skip, TotalChunks). Chunks
// below skip count as transferred. Chunks that succeeded in an earlier run
// are carried over as SUCCESS.
func (t *Task) GenerateChunks(skip int) []*Chunk {
	ranges := PlanChunks(t.env.meta.Size, t.env.config.ChunkSize, skip)
	skip = t.env.totalChunks - len(ranges)

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range skip {
		t.completed[i] = struct{}{}
	}

	chunks := make([]*Chunk, 0, len(ranges))
	for _, r := range ranges {
		c := newChunk(t.env, r)
		if _, ok := t.completed[r.Index]; ok {
			c.markComplete()
		}
		c.Events().Subscribe(t.onChunkEvent)
		chunks = append(chunks, c)
	}
	t.chunks = chunks
	t.skipped = skip
	return chunks
}

// RunConcurrent keeps at most limit chunks in flight, starting them in
// index order. After a permanent chunk failure no new chunks are started
// and in-flight ones are left to finish. Once every chunk succeeded the
// file is merged.
func (t *Task) RunConcurrent(ctx context.Context, limit int) error {
	var g errgroup.Group
	g.SetLimit(max(limit, 1))

	var failed atomic.Bool
	for _, c := range t.Chunks() {
		if c.Status() == types.StatusSuccess {
			continue
		}
		if failed.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if failed.Load() || ctx.Err() != nil {
				return nil
			}
			if err := c.Run(ctx); err != nil {
				if !errors.Is(err, ErrAborted) {
					failed.Store(true)
				}
				return &Error{Op: "upload", Identifier: t.Identifier(), Chunk: c.Index() + 1, Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrAborted
	}
	for _, c := range t.Chunks() {
		if c.Status() != types.StatusSuccess {
			return ErrAborted
		}
	}
	return t.merge(ctx)
}

func (t *Task) merge(ctx context.Context) error {
	err := t.env.store.Merge(ctx, storage.MergeRequest{
		Identifier:   t.env.meta.Identifier,
		Filename:     t.env.meta.Name,
		RelativePath: t.env.meta.RelativePath,
		TotalSize:    t.env.meta.Size,
		TotalChunks:  t.env.totalChunks,
	})
	if err != nil {
		return &Error{Op: "merge", Identifier: t.Identifier(), Err: fmt.Errorf("%w: %w", ErrMergeFailed, err)}
	}
	t.logger.Info("file merged", zap.Int("chunks", t.env.totalChunks))
	return nil
}

// Abort cancels the running attempt and every chunk still in flight
func (t *Task) Abort() {
	t.abort(0, false)
}

// Runs returns how many runs of the task have started
func (t *Task) Runs() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// AbortRun aborts the task only if no run has started since Runs returned gen
func (t *Task) AbortRun(gen uint64) {
	t.abort(gen, true)
}

func (t *Task) abort(gen uint64, guarded bool) {
	t.mu.Lock()
	if guarded && t.runs != gen {
		t.mu.Unlock()
		return
	}
	if t.status == types.StatusPending || t.status == types.StatusProgress {
		t.status = types.StatusAbort
	}
	cancel := t.cancel
	chunks := t.chunks
	t.mu.Unlock()

	for _, c := range chunks {
		c.Abort()
	}
	if cancel != nil {
		cancel()
	}
}

func (t *Task) onChunkEvent(ev ChunkEvent) {
	if ev.Status == types.StatusSuccess {
		t.mu.Lock()
		t.completed[ev.Index] = struct{}{}
		t.mu.Unlock()
	}
	t.publish()
}

// Info returns a progress snapshot of the task
func (t *Task) Info() types.FileInfo {
	t.mu.Lock()
	status := t.status
	chunks := t.chunks
	skipped := t.skipped
	t.mu.Unlock()

	size := t.env.meta.Size
	info := types.FileInfo{
		Identifier: t.env.meta.Identifier,
		Name:       t.env.meta.Name,
		Size:       size,
		Status:     status,
	}
	if status == types.StatusSuccess {
		info.Progress = 100
		return info
	}
	if size <= 0 {
		return info
	}

	done := min(int64(skipped)*t.env.config.ChunkSize, size)
	for _, c := range chunks {
		done += c.Contribution()
		info.Speed += c.MeasureSpeed()
	}
	done = min(done, size)

	info.Progress = min(float64(done)/float64(size)*100, 100)
	if info.Speed > 0 {
		eta := time.Duration(float64(size-done) / info.Speed * float64(time.Second))
		info.TimeRemaining = &eta
	}
	return info
}

func (t *Task) publish() {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	t.events.Publish(t.Info())
}
