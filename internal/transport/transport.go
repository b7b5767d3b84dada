// Package transport declares the backend and push channel contracts the
// sync engine consumes, plus the records that cross them.
package transport

import (
	"context"
	"time"
)

// Record is one persisted message as returned by a backend fetch. Payload
// is the text body or the attachment URL.
type Record struct {
	ID        string
	SenderID  string
	Payload   string
	CreatedAt time.Time
}

// User is a directory entry.
type User struct {
	ID       string
	Username string
	Email    string
}

// Backend is the request/response side of the server.
type Backend interface {
	FetchTextMessages(ctx context.Context, selfID, peerID string) ([]Record, error)
	FetchVoiceMessages(ctx context.Context, selfID, peerID string) ([]Record, error)
	SendText(ctx context.Context, selfID, peerID, body string) error
	UploadVoice(ctx context.Context, selfID, peerID, path string) (url string, err error)
}

// Directory lists the users a conversation can be opened with.
type Directory interface {
	FetchUsers(ctx context.Context, selfID string) ([]User, error)
}

type EventType string

const (
	TextReceived  EventType = "text-received"
	VoiceReceived EventType = "voice-received"
)

// Event is one message delivered over the push channel. Body carries text,
// URL carries the attachment reference. LocalKey is only present on echoes
// of this device's own sends.
type Event struct {
	Type     EventType
	From     string
	To       string
	Body     string
	URL      string
	LocalKey string
	ID       string
	At       time.Time
}

type OutgoingType string

const (
	SendTextEvent  OutgoingType = "send-text"
	SendVoiceEvent OutgoingType = "send-voice"
)

// Outgoing is an event this device emits to a peer.
type Outgoing struct {
	Type     OutgoingType
	From     string
	To       string
	Body     string
	URL      string
	LocalKey string
}

// Subscription delivers push events until closed. Events is closed once the
// subscription ends for any reason.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Push is the publish/subscribe side of the server.
type Push interface {
	Subscribe(ctx context.Context, selfID string) (Subscription, error)
	Emit(ctx context.Context, out Outgoing) error
}
