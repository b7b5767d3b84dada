// Package upload submits captured voice notes and announces them.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"chatsync/internal/metrics"
)

var ErrUploadFailure = errors.New("upload failed")

// Ref is the durable reference to an uploaded attachment.
type Ref struct {
	URL         string
	SenderID    string
	RecipientID string
	Size        int64
	UploadedAt  time.Time
}

type backend interface {
	UploadVoice(ctx context.Context, selfID, peerID, path string) (string, error)
}

// Publisher announces a completed upload: it notifies the recipient and
// records the message locally.
type Publisher interface {
	PublishVoice(ctx context.Context, ref Ref) error
}

// Uploader never retries. A failed upload leaves the file in place so the
// caller can offer it again.
type Uploader struct {
	backend backend
	maxSize uint64
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func New(b backend, maxSize uint64, m *metrics.Metrics, log zerolog.Logger) *Uploader {
	return &Uploader{backend: b, maxSize: maxSize, metrics: m, log: log, now: time.Now}
}

func (u *Uploader) SetClock(now func() time.Time) { u.now = now }

// Upload sends the file at path from sender to recipient. On success the
// reference is handed to pub; a publish error is logged but does not fail
// the upload since the attachment is already durable.
func (u *Uploader) Upload(ctx context.Context, path, senderID, recipientID string, pub Publisher) (Ref, error) {
	log := u.log.With().Str("peer", recipientID).Str("path", path).Logger()

	info, err := os.Stat(path)
	if err != nil {
		return u.fail(log, fmt.Errorf("%w: %w", ErrUploadFailure, err))
	}
	if info.Size() == 0 {
		return u.fail(log, fmt.Errorf("%w: %s is empty", ErrUploadFailure, path))
	}
	if u.maxSize > 0 && uint64(info.Size()) > u.maxSize {
		return u.fail(log, fmt.Errorf("%w: %s exceeds the %s limit", ErrUploadFailure,
			humanize.Bytes(uint64(info.Size())), humanize.Bytes(u.maxSize)))
	}

	url, err := u.backend.UploadVoice(ctx, senderID, recipientID, path)
	if err != nil {
		return u.fail(log, fmt.Errorf("%w: %w", ErrUploadFailure, err))
	}
	if url == "" {
		return u.fail(log, fmt.Errorf("%w: server returned no url", ErrUploadFailure))
	}

	ref := Ref{
		URL:         url,
		SenderID:    senderID,
		RecipientID: recipientID,
		Size:        info.Size(),
		UploadedAt:  u.now(),
	}
	u.metrics.Upload("ok", ref.Size)
	log.Info().Str("url", url).Str("size", humanize.Bytes(uint64(ref.Size))).Msg("voice note uploaded")

	if pub != nil {
		if err := pub.PublishVoice(ctx, ref); err != nil {
			log.Warn().Err(err).Msg("voice note uploaded but not announced")
		}
	}
	return ref, nil
}

func (u *Uploader) fail(log zerolog.Logger, err error) (Ref, error) {
	u.metrics.Upload("failed", 0)
	log.Warn().Err(err).Msg("voice note upload failed")
	return Ref{}, err
}
