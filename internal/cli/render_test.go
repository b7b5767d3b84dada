package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"chatsync/internal/timeline"
)

func TestPrinter_FormatsAndReprintsOnStateChange(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, "me", "Ada")
	p.loc = time.UTC

	at := time.Date(2024, 3, 1, 9, 30, 5, 0, time.UTC)
	sent := timeline.Message{LocalKey: "l1", SenderID: "me", Direction: timeline.Outgoing, Kind: timeline.KindText, Payload: "hi", Timestamp: at, State: timeline.Pending}
	got := timeline.Message{LocalKey: "k-1", SenderID: "ada", Direction: timeline.Incoming, Kind: timeline.KindVoice, Payload: "https://x/v.mp3", Timestamp: at.Add(time.Second), State: timeline.Confirmed}

	p.print([]timeline.Message{sent, got})
	p.print([]timeline.Message{sent, got})
	sent.State = timeline.Confirmed
	p.print([]timeline.Message{sent, got})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"[09:30:05] (M) me: hi (sending)",
		"[09:30:06] (A) Ada: [voice] https://x/v.mp3",
		"[09:30:05] (M) me: hi (sent)",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestPrinter_KeyChangeIsNotReprinted(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, "me", "Ada")
	p.loc = time.UTC

	at := time.Date(2024, 3, 1, 9, 30, 5, 0, time.UTC)
	pushed := timeline.Message{LocalKey: "k-p-abc", SenderID: "ada", Direction: timeline.Incoming, Kind: timeline.KindText, Payload: "ok", Timestamp: at, State: timeline.Confirmed}
	p.print([]timeline.Message{pushed})

	polled := pushed
	polled.LocalKey = "k-m1"
	again := timeline.Message{LocalKey: "k-m2", SenderID: "ada", Direction: timeline.Incoming, Kind: timeline.KindText, Payload: "ok", Timestamp: at.Add(time.Second), State: timeline.Confirmed}
	p.print([]timeline.Message{polled, again})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"[09:30:05] (A) Ada: ok",
		"[09:30:06] (A) Ada: ok",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}
