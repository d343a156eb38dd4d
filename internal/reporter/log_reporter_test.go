package reporter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"chunkup/pkg/types"
)

func TestLogReporter_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewLogReporter(zap.New(core))

	eta := 3 * time.Second
	file := types.FileInfo{Identifier: "id-1", Name: "clip.mp4", Size: 2048, Status: types.StatusProgress, Progress: 50, Speed: 1024, TimeRemaining: &eta}

	r.Handle(types.FileEvent{Type: types.EventFileAdded, File: file, Message: "file added to upload queue"})
	r.Handle(types.FileEvent{Type: types.EventFileProgress, File: file})
	r.Handle(types.FileEvent{Type: types.EventFileSucceeded, File: file, Message: "upload complete"})
	r.Handle(types.FileEvent{Type: types.EventFileFailed, File: file, Message: "boom", Err: errors.New("boom")})

	entries := logs.All()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "file added to upload queue", entries[0].Message)
	assert.Equal(t, "2.0 KiB", entries[0].ContextMap()["size"])

	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, 50.0, entries[1].ContextMap()["progress"])
	assert.Equal(t, "1.0 KiB/s", entries[1].ContextMap()["speed"])

	assert.Equal(t, zapcore.InfoLevel, entries[2].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
	assert.Equal(t, "id-1", entries[3].ContextMap()["identifier"])
}
