// Package manager sequences file transfers: it admits files, runs the head
// of the pending queue, parks paused and failed files in the suspended
// queue and advances to the next file on every terminal outcome.
package manager

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"chunkup/internal/config"
	"chunkup/internal/events"
	"chunkup/internal/logging"
	"chunkup/internal/processor"
	"chunkup/internal/queue"
	"chunkup/internal/storage"
	"chunkup/internal/transfer"
	"chunkup/pkg/types"
)

// AddResult lists what happened to each candidate of AddFiles
type AddResult struct {
	Added    []types.FileInfo
	Rejected []*RejectionError
}

// run is one execution of the active task. Completions of a run that is no
// longer active are ignored.
type run struct {
	task   *transfer.Task
	cancel context.CancelFunc
	parent context.Context
}

type entry struct {
	task        *transfer.Task
	unsubscribe func()
}

// Manager owns the pending and suspended queues and the identifier registry.
// A single mutex guards all of them together with the active run.
type Manager struct {
	config *config.Config
	store  storage.Store
	files  *processor.FileService
	logger *zap.Logger
	events events.Bus[types.FileEvent]

	mu         sync.Mutex
	pending    *queue.Queue[*transfer.Task]
	suspended  *queue.Queue[*transfer.Task]
	registry   map[string]*entry
	order      []string // registration order
	active     *run
	idle       chan struct{}
	idleClosed bool
}

// New creates a manager. A nil files service reads from the OS filesystem.
func New(cfg *config.Config, store storage.Store, files *processor.FileService, logger *zap.Logger) *Manager {
	logger = logging.OrNop(logger).Named("manager")
	if files == nil {
		files = processor.NewFileService(nil, logger)
	}

	idle := make(chan struct{})
	close(idle)

	return &Manager{
		config:     cfg,
		store:      store,
		files:      files,
		logger:     logger,
		pending:    queue.New[*transfer.Task](),
		suspended:  queue.New[*transfer.Task](),
		registry:   make(map[string]*entry),
		idle:       idle,
		idleClosed: true,
	}
}

// Events returns the bus external listeners subscribe to
func (m *Manager) Events() *events.Bus[types.FileEvent] {
	return &m.events
}

// AddFiles validates and enqueues files. Rejected files are reported in the
// result; the error is only set when the whole batch is refused.
func (m *Manager) AddFiles(ctx context.Context, paths ...string) (AddResult, error) {
	var res AddResult
	if m.config.IsSingleFile && len(paths) > 1 {
		return res, ErrMultipleFiles
	}

	var evs []types.FileEvent
	for _, path := range paths {
		task, err := m.admit(path)
		if err != nil {
			rej := &RejectionError{Path: path, Reason: err}
			m.logger.Warn("file rejected", zap.String("file", path), zap.Error(err))
			res.Rejected = append(res.Rejected, rej)
			continue
		}

		info := task.Info()
		res.Added = append(res.Added, info)
		evs = append(evs, types.FileEvent{
			Type:    types.EventFileAdded,
			File:    info,
			Message: "file added to upload queue",
		})
		m.logger.Info("file added",
			zap.String("file", path),
			zap.String("identifier", info.Identifier),
			zap.Int("chunks", task.TotalChunks()))
	}
	m.publish(evs)

	if m.config.IsAutoStart && len(res.Added) > 0 {
		m.StartNext(ctx)
	}
	return res, nil
}

func (m *Manager) admit(path string) (*transfer.Task, error) {
	src, err := m.files.Describe(path)
	if err != nil {
		return nil, err
	}
	meta := src.Metadata()
	if err := validate(m.config, meta); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry[meta.Identifier]; ok {
		return nil, ErrDuplicateFile
	}

	task := transfer.NewTask(src, m.store, m.config, m.logger)
	unsubscribe := task.Events().Subscribe(func(info types.FileInfo) {
		m.events.Publish(types.FileEvent{Type: types.EventFileProgress, File: info})
	})
	m.registry[meta.Identifier] = &entry{task: task, unsubscribe: unsubscribe}
	m.order = append(m.order, meta.Identifier)
	m.pending.Insert(task)
	return task, nil
}

// StartNext begins transferring the head of the pending queue unless a
// transfer is already running.
func (m *Manager) StartNext(ctx context.Context) {
	m.mu.Lock()
	m.startNextLocked(ctx)
	m.mu.Unlock()
}

func (m *Manager) startNextLocked(ctx context.Context) {
	m.launchLocked(ctx)
	m.refreshIdleLocked(ctx)
}

func (m *Manager) launchLocked(ctx context.Context) {
	if m.active != nil || ctx.Err() != nil {
		return
	}
	task, ok := m.pending.PeekHead()
	if !ok {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{task: task, cancel: cancel, parent: ctx}
	m.active = r

	m.logger.Debug("transfer started", zap.String("identifier", task.Identifier()))
	go func() {
		err := task.Run(runCtx)
		m.finish(r, err)
	}()
}

// finish handles the terminal outcome of a run and advances the pipeline
func (m *Manager) finish(r *run, err error) {
	r.cancel()

	m.mu.Lock()
	if m.active != r {
		m.mu.Unlock()
		return
	}
	m.active = nil

	task := r.task
	id := task.Identifier()
	m.pending.Remove(id)

	var ev types.FileEvent
	switch {
	case err == nil:
		msg := "upload complete"
		if task.AlreadyPresent() {
			msg = "file already exists on server"
		}
		ev = types.FileEvent{Type: types.EventFileSucceeded, File: task.Info(), Message: msg}
		m.logger.Info("transfer succeeded", zap.String("identifier", id), zap.String("result", msg))
	case errors.Is(err, transfer.ErrAborted):
		m.suspended.Insert(task)
		ev = types.FileEvent{Type: types.EventFileFailed, File: task.Info(), Message: "upload interrupted", Err: err}
		m.logger.Info("transfer interrupted", zap.String("identifier", id))
	default:
		m.suspended.Insert(task)
		ev = types.FileEvent{Type: types.EventFileFailed, File: task.Info(), Message: err.Error(), Err: err}
		m.logger.Warn("transfer failed", zap.String("identifier", id), zap.Error(err))
	}

	m.launchLocked(r.parent)
	m.mu.Unlock()

	// Idle waiters are released only after listeners saw the outcome
	m.publish([]types.FileEvent{ev})

	m.mu.Lock()
	m.refreshIdleLocked(r.parent)
	m.mu.Unlock()
}

// Pause aborts a pending or active task and moves it to the suspended queue
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	task, ok := m.pending.Remove(id)
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.suspended.Insert(task)
	m.stopActiveLocked(task)
	// A Resume after unlocking starts a new run that the abort must not reach
	gen := task.Runs()
	m.mu.Unlock()

	task.AbortRun(gen)
	m.logger.Info("transfer paused", zap.String("identifier", id))
	return nil
}

// Resume moves a suspended task to the tail of the pending queue
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.suspended.Remove(id)
	if !ok {
		return ErrNotFound
	}
	m.pending.Insert(task)
	m.logger.Info("transfer resumed", zap.String("identifier", id))

	m.startNextLocked(ctx)
	return nil
}

// Retry resumes a task whose last run failed
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	i := m.suspended.FindByIdentifier(id)
	if i < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	task, _ := m.suspended.At(i)
	m.mu.Unlock()

	if task.Status() != types.StatusError {
		return ErrNotFailed
	}
	return m.Resume(ctx, id)
}

// Cancel drops a task from whichever queue holds it and frees its identifier
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	task, ok := m.pending.Remove(id)
	if !ok {
		task, ok = m.suspended.Remove(id)
	}
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.unregisterLocked(id)
	m.stopActiveLocked(task)
	m.refreshIdleLocked(context.Background())
	gen := task.Runs()
	m.mu.Unlock()

	task.AbortRun(gen)
	m.logger.Info("transfer cancelled", zap.String("identifier", id))
	return nil
}

// Delete frees the identifier of a finished task so the same file can be
// added again.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry[id]; !ok {
		return ErrNotFound
	}
	if m.pending.FindByIdentifier(id) >= 0 || m.suspended.FindByIdentifier(id) >= 0 {
		return ErrStillQueued
	}
	m.unregisterLocked(id)
	return nil
}

// stopActiveLocked cancels the active run if it belongs to task and starts
// the next pending file under the same parent context.
func (m *Manager) stopActiveLocked(task *transfer.Task) {
	r := m.active
	if r == nil || r.task != task {
		return
	}
	r.cancel()
	m.active = nil
	m.startNextLocked(r.parent)
}

func (m *Manager) unregisterLocked(id string) {
	e, ok := m.registry[id]
	if !ok {
		return
	}
	e.unsubscribe()
	delete(m.registry, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
}

// refreshIdleLocked closes the idle channel when nothing is running and
// nothing more will start, and replaces it once work appears.
func (m *Manager) refreshIdleLocked(ctx context.Context) {
	idle := m.active == nil && (m.pending.Size() == 0 || ctx.Err() != nil)
	switch {
	case idle && !m.idleClosed:
		close(m.idle)
		m.idleClosed = true
	case !idle && m.idleClosed:
		m.idle = make(chan struct{})
		m.idleClosed = false
	}
}

// Idle returns a channel closed once no file is transferring and none is
// waiting to start.
func (m *Manager) Idle() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// Transferring reports whether a file is currently being transferred
func (m *Manager) Transferring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Active returns the identifier of the running task, if any
func (m *Manager) Active() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.task.Identifier(), true
}

// Registered reports whether id is tracked by the registry
func (m *Manager) Registered(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registry[id]
	return ok
}

// Pending returns the pending queue in order
func (m *Manager) Pending() []types.FileInfo {
	m.mu.Lock()
	tasks := m.pending.All()
	m.mu.Unlock()
	return infos(tasks)
}

// Suspended returns the suspended queue in order
func (m *Manager) Suspended() []types.FileInfo {
	m.mu.Lock()
	tasks := m.suspended.All()
	m.mu.Unlock()
	return infos(tasks)
}

// Files returns every registered file in the order it was added
func (m *Manager) Files() []types.FileInfo {
	m.mu.Lock()
	tasks := make([]*transfer.Task, 0, len(m.order))
	for _, id := range m.order {
		tasks = append(tasks, m.registry[id].task)
	}
	m.mu.Unlock()
	return infos(tasks)
}

func infos(tasks []*transfer.Task) []types.FileInfo {
	out := make([]types.FileInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Info())
	}
	return out
}

func (m *Manager) publish(evs []types.FileEvent) {
	for _, ev := range evs {
		m.events.Publish(ev)
	}
}
