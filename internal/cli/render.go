package cli

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"chatsync/internal/avatar"
	"chatsync/internal/timeline"
)

// printer writes each message once, and again whenever its state changes.
// An entry whose key changes because it adopted a server id is not reprinted.
type printer struct {
	w        io.Writer
	selfName string
	peerName string
	loc      *time.Location
	seen     map[string]timeline.Message
}

func newPrinter(w io.Writer, selfName, peerName string) *printer {
	return &printer{w: w, selfName: selfName, peerName: peerName, loc: time.Local, seen: make(map[string]timeline.Message)}
}

func (p *printer) print(msgs []timeline.Message) {
	present := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		present[m.LocalKey] = true
	}
	var vanished []string
	for k := range p.seen {
		if !present[k] {
			vanished = append(vanished, k)
		}
	}
	sort.Strings(vanished)

	for _, m := range msgs {
		prev, ok := p.seen[m.LocalKey]
		if !ok {
			for i, k := range vanished {
				if old := p.seen[k]; sameLine(old, m) {
					prev, ok = old, true
					delete(p.seen, k)
					vanished = append(vanished[:i], vanished[i+1:]...)
					break
				}
			}
		}
		p.seen[m.LocalKey] = m
		if ok && prev.State == m.State {
			continue
		}
		fmt.Fprintln(p.w, p.format(m))
	}
}

func sameLine(a, b timeline.Message) bool {
	return a.SenderID == b.SenderID && a.Kind == b.Kind && a.Payload == b.Payload
}

func (p *printer) format(m timeline.Message) string {
	name := p.peerName
	if m.Direction == timeline.Outgoing {
		name = p.selfName
	}
	a := avatar.Assign(name)
	body := m.Payload
	if m.Kind == timeline.KindVoice {
		body = "[voice] " + m.Payload
	}
	line := fmt.Sprintf("[%s] (%s) %s: %s", m.Timestamp.In(p.loc).Format("15:04:05"), a.Initial, name, body)
	if m.Direction == timeline.Outgoing {
		if m.State == timeline.Pending {
			line += " (sending)"
		} else {
			line += " (sent)"
		}
	}
	return line
}

// lockedWriter lets the update printer and the input loop share one writer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
