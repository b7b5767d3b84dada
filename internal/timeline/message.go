package timeline

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
)

type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// State is the confirmation state of a message.
type State string

const (
	Pending   State = "pending"
	Confirmed State = "confirmed"
)

// Source records which input last defined a message's identity. Only
// SourcePoll entries carry an id issued by the server; push and upload
// entries carry a provisional id until a snapshot adopts them.
type Source string

const (
	SourceLocal  Source = "local"
	SourcePush   Source = "push"
	SourcePoll   Source = "poll"
	SourceUpload Source = "upload"
)

// Feed names an input stream for cursor bookkeeping.
type Feed string

const (
	FeedText  Feed = "text"
	FeedVoice Feed = "voice"
	FeedPush  Feed = "push"
)

// Message is one exchanged unit in a conversation.
type Message struct {
	ID        string    `json:"id,omitempty"`
	LocalKey  string    `json:"local_key"`
	SenderID  string    `json:"sender_id"`
	Direction Direction `json:"direction"`
	Kind      Kind      `json:"kind"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
	Source    Source    `json:"source"`

	// claimed by a push event / by an upload delivery
	pushed    bool
	delivered bool
	seq       uint64
}

// ProvisionalID derives a stable id from message content, used until the
// server-issued id is known.
func ProvisionalID(senderID string, kind Kind, payload string, ts time.Time) string {
	h := sha1.New()
	h.Write([]byte(senderID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(payload))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ts.UnixMilli(), 10)))
	return "p-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func keyForID(id string) string { return "k-" + id }
