// Package memory is an in-process backend and push hub. It backs tests and
// the loopback demo.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/internal/transport"
)

var ErrClosed = errors.New("subscription closed")

// Hub routes emitted events to the subscribers of the recipient.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*subscription]struct{}
	emitted []transport.Outgoing
	now     func() time.Time

	// EchoSender also delivers each emitted event back to the sender's own
	// subscriptions, carrying the LocalKey.
	EchoSender bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{}), now: time.Now}
}

func (h *Hub) SetClock(now func() time.Time) { h.now = now }

func (h *Hub) Subscribe(_ context.Context, selfID string) (transport.Subscription, error) {
	s := &subscription{
		hub:    h,
		userID: selfID,
		events: make(chan transport.Event, 64),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	if h.subs[selfID] == nil {
		h.subs[selfID] = make(map[*subscription]struct{})
	}
	h.subs[selfID][s] = struct{}{}
	h.mu.Unlock()
	return s, nil
}

func (h *Hub) Emit(ctx context.Context, out transport.Outgoing) error {
	ev := transport.Event{
		From: out.From,
		To:   out.To,
		Body: out.Body,
		URL:  out.URL,
		At:   h.now(),
	}
	switch out.Type {
	case transport.SendTextEvent:
		ev.Type = transport.TextReceived
	case transport.SendVoiceEvent:
		ev.Type = transport.VoiceReceived
	default:
		return errors.New("unknown outgoing event " + string(out.Type))
	}

	h.mu.Lock()
	h.emitted = append(h.emitted, out)
	targets := h.targets(out.To)
	var echoes []*subscription
	if h.EchoSender {
		echoes = h.targets(out.From)
	}
	h.mu.Unlock()

	for _, s := range targets {
		if err := s.deliver(ctx, ev); err != nil && !errors.Is(err, ErrClosed) {
			return err
		}
	}
	echo := ev
	echo.LocalKey = out.LocalKey
	for _, s := range echoes {
		if err := s.deliver(ctx, echo); err != nil && !errors.Is(err, ErrClosed) {
			return err
		}
	}
	return nil
}

// Deliver pushes ev to every subscription of userID, as if the server had.
func (h *Hub) Deliver(ctx context.Context, userID string, ev transport.Event) error {
	if ev.At.IsZero() {
		ev.At = h.now()
	}
	h.mu.Lock()
	targets := h.targets(userID)
	h.mu.Unlock()
	for _, s := range targets {
		if err := s.deliver(ctx, ev); err != nil && !errors.Is(err, ErrClosed) {
			return err
		}
	}
	return nil
}

// Emitted returns every event passed to Emit so far.
func (h *Hub) Emitted() []transport.Outgoing {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]transport.Outgoing, len(h.emitted))
	copy(out, h.emitted)
	return out
}

// Subscribers counts the open subscriptions of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// targets is called with h.mu held.
func (h *Hub) targets(userID string) []*subscription {
	out := make([]*subscription, 0, len(h.subs[userID]))
	for s := range h.subs[userID] {
		out = append(out, s)
	}
	return out
}

func (h *Hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[s.userID], s)
	if len(h.subs[s.userID]) == 0 {
		delete(h.subs, s.userID)
	}
}

type subscription struct {
	hub    *Hub
	userID string
	events chan transport.Event
	done   chan struct{}

	sendMu sync.RWMutex
	once   sync.Once
}

func (s *subscription) Events() <-chan transport.Event { return s.events }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
		// wait out in-flight deliveries before closing the channel
		s.sendMu.Lock()
		close(s.events)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *subscription) deliver(ctx context.Context, ev transport.Event) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
