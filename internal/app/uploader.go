// Package app wires the transfer manager to the console for one CLI run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"chunkup/internal/config"
	"chunkup/internal/logging"
	"chunkup/internal/manager"
	"chunkup/internal/ui"
)

// ErrNothingToUpload is returned when every candidate file was rejected
var ErrNothingToUpload = errors.New("no files to upload")

// UploadOptions configures the uploader application behavior
type UploadOptions struct {
	Paths       []string  // Required: files to upload
	Interactive bool      // Read pause/resume/cancel commands from Input
	Input       io.Reader // Command input for interactive mode
}

// UploaderApp implements the upload command
type UploaderApp struct {
	config  *config.Config
	manager *manager.Manager
	ui      *ui.ConsoleUI
	logger  *zap.Logger
}

// NewUploaderApp creates a new uploader application
func NewUploaderApp(cfg *config.Config, mgr *manager.Manager, console *ui.ConsoleUI, logger *zap.Logger) *UploaderApp {
	return &UploaderApp{
		config:  cfg,
		manager: mgr,
		ui:      console,
		logger:  logging.OrNop(logger).Named("app"),
	}
}

// Run queues the files and blocks until every transfer has ended, the user
// quits or ctx is cancelled. Files left unfinished are reported as an error.
func (a *UploaderApp) Run(ctx context.Context, opts *UploadOptions) error {
	if len(opts.Paths) == 0 {
		return fmt.Errorf("at least one file is required")
	}

	unsubscribe := a.manager.Events().Subscribe(a.ui.Handle)
	defer unsubscribe()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	res, err := a.manager.AddFiles(runCtx, opts.Paths...)
	if err != nil {
		return fmt.Errorf("failed to queue files: %w", err)
	}
	for _, rej := range res.Rejected {
		a.ui.ShowMessage(rej.Error())
	}
	if len(res.Added) == 0 {
		return ErrNothingToUpload
	}
	if !a.config.IsAutoStart {
		a.manager.StartNext(runCtx)
	}

	if opts.Interactive && opts.Input != nil {
		err := ui.NewPrompt(opts.Input, a.ui, a.manager).Run(runCtx)
		if errors.Is(err, ui.ErrQuit) {
			a.logger.Info("quit requested, stopping transfers")
			cancel()
		}
	}

	select {
	case <-a.manager.Idle():
	case <-ctx.Done():
		a.ui.ShowMessage("Interrupted, waiting for the active upload to stop...")
		<-a.manager.Idle()
	}

	return a.summarize(ctx)
}

func (a *UploaderApp) summarize(ctx context.Context) error {
	left := a.manager.Suspended()
	if len(left) == 0 {
		a.ui.ShowMessage("All uploads finished.")
		return nil
	}

	a.ui.ShowMessage("Unfinished uploads:")
	a.ui.PrintFiles(left)
	if ctx.Err() != nil {
		return fmt.Errorf("%d file(s) interrupted: %w", len(left), ctx.Err())
	}
	return fmt.Errorf("%d file(s) did not finish uploading", len(left))
}
