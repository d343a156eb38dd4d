package types

import "time"

// EventType identifies what happened to a file
type EventType string

const (
	EventFileAdded     EventType = "file_added"
	EventFileProgress  EventType = "file_progress"
	EventFileSucceeded EventType = "file_succeeded"
	EventFileFailed    EventType = "file_failed"
)

// FileInfo is a point-in-time snapshot of a file transfer
type FileInfo struct {
	Identifier    string         `json:"identifier"`
	Name          string         `json:"name"`
	Size          int64          `json:"size"`
	Status        Status         `json:"status"`
	Progress      float64        `json:"progress"` // Percent, 0-100
	Speed         float64        `json:"speed"`    // Bytes per second
	TimeRemaining *time.Duration `json:"timeRemaining,omitempty"`
}

// FileEvent is published by the transfer manager to external listeners
type FileEvent struct {
	Type    EventType `json:"type"`
	File    FileInfo  `json:"file"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// IsTerminal reports whether the event ends the file's current run
func (e FileEvent) IsTerminal() bool {
	return e.Type == EventFileSucceeded || e.Type == EventFileFailed
}
