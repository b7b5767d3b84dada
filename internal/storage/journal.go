package storage

import "time"

type EventType string

const (
	FetchFailed   EventType = "fetch_failed"
	PushFailed    EventType = "push_failed"
	SendFailed    EventType = "send_failed"
	EmitFailed    EventType = "emit_failed"
	UploadFailed  EventType = "upload_failed"
	Uploaded      EventType = "uploaded"
	Sent          EventType = "sent"
	Promoted      EventType = "promoted"
	SessionOpened EventType = "session_opened"
	SessionClosed EventType = "session_closed"
)

// Event is one sync occurrence worth keeping for later inspection. The
// journal is diagnostic only; timelines are never rebuilt from it.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Peer      string    `json:"peer"`
	Type      EventType `json:"type"`
	Feed      string    `json:"feed,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Journal records sync events. Load returns them in append order.
// Implementations must be safe for concurrent use.
type Journal interface {
	Append(event Event) error
	Load() ([]Event, error)
}
