package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeBackend struct {
	url   string
	err   error
	calls int
}

func (f *fakeBackend) UploadVoice(_ context.Context, _, _, _ string) (string, error) {
	f.calls++
	return f.url, f.err
}

type fakePublisher struct {
	refs []Ref
	err  error
}

func (p *fakePublisher) PublishVoice(_ context.Context, ref Ref) error {
	p.refs = append(p.refs, ref)
	return p.err
}

func writeFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording_1.mp3")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUpload_SuccessPublishes(t *testing.T) {
	b := &fakeBackend{url: "https://cdn/v.mp3"}
	pub := &fakePublisher{}
	u := New(b, 1<<20, nil, zerolog.Nop())
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	u.SetClock(func() time.Time { return at })

	ref, err := u.Upload(context.Background(), writeFile(t, 128), "me", "bob", pub)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := Ref{URL: "https://cdn/v.mp3", SenderID: "me", RecipientID: "bob", Size: 128, UploadedAt: at}
	if ref != want {
		t.Fatalf("ref = %+v, want %+v", ref, want)
	}
	if len(pub.refs) != 1 || pub.refs[0] != want {
		t.Fatalf("published: %+v", pub.refs)
	}
}

func TestUpload_PublishErrorDoesNotFailUpload(t *testing.T) {
	u := New(&fakeBackend{url: "u"}, 0, nil, zerolog.Nop())
	if _, err := u.Upload(context.Background(), writeFile(t, 1), "me", "bob", &fakePublisher{err: errors.New("offline")}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func TestUpload_FailureKeepsFileAndDoesNotPublish(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		size    int
		calls   int
	}{
		{"server error", &fakeBackend{err: errors.New("502")}, 64, 1},
		{"empty url", &fakeBackend{}, 64, 1},
		{"empty file", &fakeBackend{url: "u"}, 0, 0},
		{"too large", &fakeBackend{url: "u"}, 2048, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.size)
			pub := &fakePublisher{}
			u := New(tt.backend, 1024, nil, zerolog.Nop())

			_, err := u.Upload(context.Background(), path, "me", "bob", pub)
			if !errors.Is(err, ErrUploadFailure) {
				t.Fatalf("want ErrUploadFailure, got %v", err)
			}
			if len(pub.refs) != 0 {
				t.Fatalf("failed upload was published")
			}
			if tt.backend.calls != tt.calls {
				t.Fatalf("backend calls = %d, want %d", tt.backend.calls, tt.calls)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("captured file removed: %v", err)
			}
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	u := New(&fakeBackend{url: "u"}, 0, nil, zerolog.Nop())
	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"), "me", "bob", nil)
	if !errors.Is(err, ErrUploadFailure) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want wrapped not-exist upload failure, got %v", err)
	}
}
