// Structure of the file stream events sent on the file-event side-channel in Shipper.

package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileEvent is written to file stream clients as a bare "data:" frame.
// ID is unique per published event, clients use it to drop duplicates.
type FileEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId"`
	Path      string    `json:"path,omitempty"`
	Content   string    `json:"content,omitempty"`
	Binary    bool      `json:"binary,omitempty"`
	MimeType  string    `json:"mimeType,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewFileEvent stamps a file event with a fresh id and the current time.
func NewFileEvent(t EventType, projectID, path, content string) FileEvent {
	return FileEvent{
		ID:        uuid.NewString(),
		Type:      t,
		ProjectID: projectID,
		Path:      path,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// IsFileEventType reports whether t may travel on the side-channel.
func IsFileEventType(t EventType) bool {
	switch t {
	case EventFileCreated, EventFileUpdated, EventFileStreamComplete:
		return true
	}
	return false
}

// DecodeFileEvent parses a serialized FileEvent received from the backbone.
func DecodeFileEvent(b []byte) (FileEvent, error) {
	var fe FileEvent
	if err := json.Unmarshal(b, &fe); err != nil {
		return FileEvent{}, err
	}
	if !IsFileEventType(fe.Type) {
		return FileEvent{}, fmt.Errorf("unknown file event type %q", fe.Type)
	}
	return fe, nil
}
