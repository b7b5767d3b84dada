package timeline

import (
	"sort"
	"strconv"
	"time"
)

// observation is one sighting of a message on some feed.
type observation struct {
	seq     uint64
	key     string // local key carried by the sighting, if any
	id      string // server or transport id, if any
	sender  string
	kind    Kind
	payload string
	ts      time.Time
}

func (o *observation) content() string {
	return o.sender + "\x00" + string(o.kind) + "\x00" + o.payload
}

func (o *observation) tuple() string {
	return o.content() + "\x00" + strconv.FormatInt(o.ts.UnixNano(), 10)
}

// same reports whether o and p carry identical data, ignoring arrival.
func (o observation) same(p observation) bool {
	return o.sender == p.sender && o.kind == p.kind && o.payload == p.payload &&
		o.key == p.key && o.id == p.id && o.ts.Equal(p.ts)
}

func contains(list []observation, o observation) bool {
	for _, x := range list {
		if x.same(o) {
			return true
		}
	}
	return false
}

// sorted returns pointers to list ordered by content rather than arrival.
func sorted(list []observation) []*observation {
	out := make([]*observation, len(list))
	for i := range list {
		out[i] = &list[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ts.Equal(b.ts) {
			return a.ts.Before(b.ts)
		}
		if a.id != b.id {
			return a.id < b.id
		}
		if a.key != b.key {
			return a.key < b.key
		}
		return a.content() < b.content()
	})
	return out
}

// entry is one message under construction: the sightings that were found to
// describe it.
type entry struct {
	rec   *observation
	local *observation
	deliv *observation
	push  *observation
}

// anchor is the sighting that fixes the entry's content and timestamp.
func (e *entry) anchor() *observation {
	switch {
	case e.rec != nil:
		return e.rec
	case e.local != nil:
		return e.local
	case e.deliv != nil:
		return e.deliv
	}
	return e.push
}

func (e *entry) ts() time.Time { return e.anchor().ts }

func (e *entry) firstSeq() uint64 {
	var first uint64
	for _, o := range []*observation{e.rec, e.local, e.deliv, e.push} {
		if o != nil && (first == 0 || o.seq < first) {
			first = o.seq
		}
	}
	return first
}

func (e *entry) message(selfID string) Message {
	a := e.anchor()
	m := Message{
		SenderID:  a.sender,
		Kind:      a.kind,
		Payload:   a.payload,
		Timestamp: a.ts,
		State:     Confirmed,
		pushed:    e.push != nil,
		delivered: e.deliv != nil,
		seq:       e.firstSeq(),
	}
	if m.SenderID == selfID {
		m.Direction = Outgoing
	} else {
		m.Direction = Incoming
	}
	switch {
	case e.rec != nil:
		m.ID, m.Source = e.rec.id, SourcePoll
	case e.deliv != nil:
		m.Source = SourceUpload
	case e.push != nil:
		m.Source = SourcePush
		if e.local == nil && e.push.id != "" {
			m.ID = e.push.id
		}
	default:
		m.State, m.Source = Pending, SourceLocal
	}
	if m.State == Confirmed && m.ID == "" {
		m.ID = ProvisionalID(m.SenderID, m.Kind, m.Payload, m.Timestamp)
	}
	return m
}

// pickKey chooses the entry's local key: the key this device assigned, else
// one derived from the server id, else whatever the push carried, else one
// derived from the entry id.
func (e *entry) pickKey(id string, used map[string]bool) string {
	var candidates []string
	if e.local != nil {
		candidates = append(candidates, e.local.key)
	}
	if e.deliv != nil {
		candidates = append(candidates, e.deliv.key)
	}
	if e.rec != nil {
		candidates = append(candidates, keyForID(e.rec.id))
	}
	if e.push != nil {
		candidates = append(candidates, e.push.key)
	}
	candidates = append(candidates, keyForID(id))
	for _, k := range candidates {
		if k != "" && !used[k] {
			return k
		}
	}
	return keyForID(id) + "-" + strconv.FormatUint(e.firstSeq(), 10)
}

type builder struct {
	window    time.Duration
	entries   []*entry
	byContent map[string][]*entry
	tuples    map[string]bool
}

func (b *builder) add(e *entry) {
	a := e.anchor()
	b.entries = append(b.entries, e)
	b.byContent[a.content()] = append(b.byContent[a.content()], e)
	b.tuples[a.tuple()] = true
}

// closest finds the eligible entry with the same content as o whose
// timestamp is nearest and within the window. Ties go to the entry built
// first.
func (b *builder) closest(o *observation, eligible func(*entry) bool) *entry {
	var best *entry
	var bestDist time.Duration
	for _, e := range b.byContent[o.content()] {
		if !eligible(e) {
			continue
		}
		d := absDuration(e.ts().Sub(o.ts))
		if d > b.window {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = e, d
		}
	}
	return best
}

// keyOwners maps local keys assigned by this device to their entries.
func (b *builder) keyOwners() map[string]*entry {
	out := make(map[string]*entry)
	for _, e := range b.entries {
		if e.local != nil && e.local.key != "" {
			out[e.local.key] = e
		}
		if e.deliv != nil && e.deliv.key != "" {
			if _, taken := out[e.deliv.key]; !taken {
				out[e.deliv.key] = e
			}
		}
	}
	return out
}
