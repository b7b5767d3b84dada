package timeline

import "time"

// Snapshot is the full set of persisted messages of one kind as the server
// sees it. It only ever adds or promotes entries: anything missing from the
// snapshot stays in the timeline.
type Snapshot struct {
	Kind      Kind
	Records   []Message
	FetchedAt time.Time
}

func (s Snapshot) feed() Feed {
	if s.Kind == KindVoice {
		return FeedVoice
	}
	return FeedText
}

func (s Snapshot) apply(t *Timeline) bool {
	t.advance(s.feed(), s.FetchedAt)
	known := make(map[string]bool, len(t.records))
	for i := range t.records {
		known[t.records[i].id+"\x00"+t.records[i].tuple()] = true
	}
	changed := false
	for _, r := range s.Records {
		if r.Kind == "" {
			r.Kind = s.Kind
		}
		if r.ID == "" {
			r.ID = ProvisionalID(r.SenderID, r.Kind, r.Payload, r.Timestamp)
		}
		o := observation{
			id:      r.ID,
			sender:  r.SenderID,
			kind:    r.Kind,
			payload: r.Payload,
			ts:      r.Timestamp,
		}
		k := o.id + "\x00" + o.tuple()
		if known[k] {
			continue
		}
		known[k] = true
		t.observe(&t.records, o)
		changed = true
	}
	return changed
}

// PushEvent is a single message delivered over the live channel. Each
// server-side send produces at most one push event. An event from this
// device carrying a LocalKey confirms the entry created under that key.
type PushEvent struct {
	Kind      Kind
	SenderID  string
	Payload   string
	LocalKey  string
	ID        string
	Timestamp time.Time
}

func (e PushEvent) apply(t *Timeline) bool {
	t.advance(FeedPush, e.Timestamp)
	o := observation{
		key:     e.LocalKey,
		id:      e.ID,
		sender:  e.SenderID,
		kind:    e.Kind,
		payload: e.Payload,
		ts:      e.Timestamp,
	}
	if contains(t.pushes, o) {
		return false
	}
	t.observe(&t.pushes, o)
	return true
}

// LocalSend is an optimistic entry created by this device before any
// network confirmation.
type LocalSend struct {
	LocalKey  string
	Kind      Kind
	Payload   string
	Timestamp time.Time
}

func (l LocalSend) apply(t *Timeline) bool {
	if l.LocalKey == "" {
		return false
	}
	for _, o := range t.locals {
		if o.key == l.LocalKey {
			return false
		}
	}
	kind := l.Kind
	if kind == "" {
		kind = KindText
	}
	t.observe(&t.locals, observation{
		key:     l.LocalKey,
		sender:  t.SelfID,
		kind:    kind,
		payload: l.Payload,
		ts:      l.Timestamp,
	})
	return true
}

// Delivered records a voice note this device has already uploaded. The
// upload round trip has completed, so the entry is confirmed on arrival.
type Delivered struct {
	LocalKey  string
	URL       string
	Timestamp time.Time
}

func (d Delivered) apply(t *Timeline) bool {
	o := observation{
		key:     d.LocalKey,
		sender:  t.SelfID,
		kind:    KindVoice,
		payload: d.URL,
		ts:      d.Timestamp,
	}
	if contains(t.deliveries, o) {
		return false
	}
	t.observe(&t.deliveries, o)
	return true
}
