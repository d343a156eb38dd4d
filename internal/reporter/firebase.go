package reporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"chunkup/internal/config"
	"chunkup/internal/logging"
	"chunkup/pkg/types"
)

const (
	defaultBufferSize       = 64
	defaultProgressInterval = time.Second
)

// StatusWriter stores the latest record of one file
type StatusWriter interface {
	Write(ctx context.Context, identifier string, record StatusRecord) error
}

// StatusRecord is the document kept per file on the status board
type StatusRecord struct {
	types.FileInfo
	Event     types.EventType `json:"event"`
	Message   string          `json:"message,omitempty"`
	UpdatedAt int64           `json:"updatedAt"` // Unix milliseconds
}

// FirebaseWriter writes records under a Realtime Database path
type FirebaseWriter struct {
	ref *db.Ref
}

// NewFirebaseWriter connects to the Realtime Database described by cfg
func NewFirebaseWriter(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseWriter, error) {
	opt := option.WithCredentialsFile(cfg.CredentialsPath)

	firebaseConfig := &firebase.Config{
		DatabaseURL: cfg.DatabaseURL,
		ProjectID:   cfg.ProjectID,
	}

	app, err := firebase.NewApp(ctx, firebaseConfig, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return &FirebaseWriter{ref: client.NewRef(cfg.RootPath)}, nil
}

// Write replaces the record stored for identifier
func (w *FirebaseWriter) Write(ctx context.Context, identifier string, record StatusRecord) error {
	if err := w.ref.Child(identifier).Set(ctx, record); err != nil {
		return fmt.Errorf("error writing status for %s: %w", identifier, err)
	}
	return nil
}

type written struct {
	status types.Status
	at     time.Time
}

// StatusBoard mirrors file events to a StatusWriter from its own goroutine.
// Progress writes are throttled per file and dropped when the buffer is
// full; every other event is always delivered.
type StatusBoard struct {
	writer   StatusWriter
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	ch     chan types.FileEvent
	done   chan struct{}

	last map[string]written
}

// NewStatusBoard starts a board writing with ctx until Close is called
func NewStatusBoard(ctx context.Context, writer StatusWriter, logger *zap.Logger) *StatusBoard {
	return newStatusBoard(ctx, writer, logger, defaultBufferSize, defaultProgressInterval, time.Now)
}

func newStatusBoard(ctx context.Context, writer StatusWriter, logger *zap.Logger, size int, interval time.Duration, now func() time.Time) *StatusBoard {
	b := &StatusBoard{
		writer:   writer,
		logger:   logging.OrNop(logger).Named("statusboard"),
		interval: interval,
		now:      now,
		ch:       make(chan types.FileEvent, size),
		done:     make(chan struct{}),
		last:     make(map[string]written),
	}
	go b.loop(ctx)
	return b
}

// Handle queues ev for writing. It blocks for non-progress events while
// the buffer is full.
func (b *StatusBoard) Handle(ev types.FileEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	if ev.Type != types.EventFileProgress {
		b.ch <- ev
		return
	}
	select {
	case b.ch <- ev:
	default:
		b.logger.Debug("progress update dropped", zap.String("identifier", ev.File.Identifier))
	}
}

// Close flushes queued events and stops the board
func (b *StatusBoard) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	<-b.done
	return nil
}

func (b *StatusBoard) loop(ctx context.Context) {
	defer close(b.done)
	for ev := range b.ch {
		if !b.due(ev) {
			continue
		}
		record := StatusRecord{
			FileInfo:  ev.File,
			Event:     ev.Type,
			Message:   ev.Message,
			UpdatedAt: b.now().UnixMilli(),
		}
		if err := b.writer.Write(ctx, ev.File.Identifier, record); err != nil {
			b.logger.Warn("failed to update status board",
				zap.String("identifier", ev.File.Identifier),
				zap.Error(err))
			continue
		}
		b.last[ev.File.Identifier] = written{status: ev.File.Status, at: b.now()}
	}
}

// due reports whether ev should be written now
func (b *StatusBoard) due(ev types.FileEvent) bool {
	if ev.Type != types.EventFileProgress {
		return true
	}
	prev, ok := b.last[ev.File.Identifier]
	if !ok || prev.status != ev.File.Status {
		return true
	}
	return b.now().Sub(prev.at) >= b.interval
}
