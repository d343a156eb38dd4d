// Package reporter forwards file events to places outside the process:
// structured logs and an optional Firebase status board.
package reporter

import (
	"go.uber.org/zap"

	"chunkup/internal/logging"
	"chunkup/pkg/types"
	"chunkup/pkg/utils"
)

// LogReporter writes every file event as a structured log entry
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a reporter logging through logger
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logging.OrNop(logger).Named("events")}
}

// Handle logs ev; progress goes to debug, failures to warn
func (r *LogReporter) Handle(ev types.FileEvent) {
	fields := []zap.Field{
		zap.String("identifier", ev.File.Identifier),
		zap.String("file", ev.File.Name),
		zap.Stringer("status", ev.File.Status),
	}

	switch ev.Type {
	case types.EventFileProgress:
		fields = append(fields,
			zap.Float64("progress", ev.File.Progress),
			zap.String("speed", utils.FormatFileSize(int64(ev.File.Speed))+"/s"))
		if ev.File.TimeRemaining != nil {
			fields = append(fields, zap.Duration("eta", *ev.File.TimeRemaining))
		}
		r.logger.Debug("upload progress", fields...)
	case types.EventFileAdded:
		fields = append(fields, zap.String("size", utils.FormatFileSize(ev.File.Size)))
		r.logger.Info(ev.Message, fields...)
	case types.EventFileSucceeded:
		r.logger.Info(ev.Message, fields...)
	case types.EventFileFailed:
		if ev.Err != nil {
			fields = append(fields, zap.Error(ev.Err))
		}
		r.logger.Warn(ev.Message, fields...)
	}
}
