package memory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"chatsync/internal/transport"
)

type stored struct {
	from, to string
	rec      transport.Record
}

// Backend keeps persisted messages in memory and serves them with the same
// snapshot semantics as the REST server.
type Backend struct {
	mu    sync.Mutex
	now   func() time.Time
	seq   int
	text  []stored
	voice []stored
	users []transport.User

	fetchErr  error
	sendErr   error
	uploadErr error
}

func NewBackend() *Backend {
	return &Backend{now: time.Now}
}

func (b *Backend) SetClock(now func() time.Time) { b.now = now }

// SetFetchError makes every fetch fail with err until cleared with nil.
func (b *Backend) SetFetchError(err error) {
	b.mu.Lock()
	b.fetchErr = err
	b.mu.Unlock()
}

func (b *Backend) SetSendError(err error) {
	b.mu.Lock()
	b.sendErr = err
	b.mu.Unlock()
}

func (b *Backend) SetUploadError(err error) {
	b.mu.Lock()
	b.uploadErr = err
	b.mu.Unlock()
}

func (b *Backend) AddUser(u transport.User) {
	b.mu.Lock()
	b.users = append(b.users, u)
	b.mu.Unlock()
}

func (b *Backend) FetchUsers(_ context.Context, selfID string) ([]transport.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	out := make([]transport.User, 0, len(b.users))
	for _, u := range b.users {
		if u.ID != selfID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (b *Backend) FetchTextMessages(_ context.Context, selfID, peerID string) ([]transport.Record, error) {
	return b.fetch(false, selfID, peerID)
}

func (b *Backend) FetchVoiceMessages(_ context.Context, selfID, peerID string) ([]transport.Record, error) {
	return b.fetch(true, selfID, peerID)
}

func (b *Backend) fetch(voice bool, selfID, peerID string) ([]transport.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	src := b.text
	if voice {
		src = b.voice
	}
	out := []transport.Record{}
	for _, s := range src {
		if (s.from == selfID && s.to == peerID) || (s.from == peerID && s.to == selfID) {
			out = append(out, s.rec)
		}
	}
	return out, nil
}

func (b *Backend) SendText(_ context.Context, selfID, peerID, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.text = append(b.text, b.record(selfID, peerID, body, b.now()))
	return nil
}

func (b *Backend) UploadVoice(_ context.Context, selfID, peerID, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	url := fmt.Sprintf("memory://voice/%d.mp3", b.seq+1)
	b.voice = append(b.voice, b.record(selfID, peerID, url, b.now()))
	return url, nil
}

// PersistText stores a text message directly, as if another client had sent it.
func (b *Backend) PersistText(from, to, body string, at time.Time) transport.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.record(from, to, body, at)
	b.text = append(b.text, s)
	return s.rec
}

func (b *Backend) PersistVoice(from, to, url string, at time.Time) transport.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.record(from, to, url, at)
	b.voice = append(b.voice, s)
	return s.rec
}

// record is called with b.mu held.
func (b *Backend) record(from, to, payload string, at time.Time) stored {
	b.seq++
	return stored{
		from: from,
		to:   to,
		rec: transport.Record{
			ID:        fmt.Sprintf("m%d", b.seq),
			SenderID:  from,
			Payload:   payload,
			CreatedAt: at,
		},
	}
}
