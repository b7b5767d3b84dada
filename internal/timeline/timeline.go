package timeline

import (
	"slices"
	"sort"
	"time"
)

// DefaultMatchWindow bounds how far apart two observations of the same
// message may be stamped and still be treated as one.
const DefaultMatchWindow = 30 * time.Second

// Timeline is the ordered, duplicate-free view of one conversation. It is a
// value: Merge never mutates its argument.
//
// A timeline keeps every observation it has merged and derives its messages
// from the whole set, so the result depends on what arrived and not on the
// order it arrived in.
type Timeline struct {
	SelfID string
	PeerID string
	Window time.Duration

	records    []observation
	locals     []observation
	deliveries []observation
	pushes     []observation

	msgs    []Message
	seq     uint64
	cursors map[Feed]time.Time
}

func New(selfID, peerID string, window time.Duration) Timeline {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return Timeline{SelfID: selfID, PeerID: peerID, Window: window}
}

// Messages returns a copy of the ordered messages.
func (t Timeline) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t Timeline) Len() int { return len(t.msgs) }

// Cursor reports the latest point merged from feed.
func (t Timeline) Cursor(feed Feed) time.Time { return t.cursors[feed] }

func (t Timeline) PendingCount() int {
	n := 0
	for i := range t.msgs {
		if t.msgs[i].State == Pending {
			n++
		}
	}
	return n
}

// StalePending lists pending entries created more than age before now.
func (t Timeline) StalePending(now time.Time, age time.Duration) []Message {
	var out []Message
	for _, m := range t.msgs {
		if m.State == Pending && now.Sub(m.Timestamp) > age {
			out = append(out, m)
		}
	}
	return out
}

// Input is one unit of data arriving from a feed. apply records the
// observations it carries and reports whether any were new.
type Input interface {
	apply(t *Timeline) bool
}

// Merge applies in to current and returns the resulting timeline and whether
// its messages changed.
func Merge(current Timeline, in Input) (Timeline, bool) {
	next := current.clone()
	if !in.apply(&next) {
		return next, false
	}
	next.rebuild()
	return next, !sameMessages(current.msgs, next.msgs)
}

func (t Timeline) clone() Timeline {
	c := t
	// clipped so appends on the copy never write into shared backing arrays
	c.records = slices.Clip(t.records)
	c.locals = slices.Clip(t.locals)
	c.deliveries = slices.Clip(t.deliveries)
	c.pushes = slices.Clip(t.pushes)
	c.cursors = make(map[Feed]time.Time, len(t.cursors))
	for k, v := range t.cursors {
		c.cursors[k] = v
	}
	return c
}

func (t *Timeline) advance(feed Feed, at time.Time) {
	if t.cursors == nil {
		t.cursors = make(map[Feed]time.Time)
	}
	if at.After(t.cursors[feed]) {
		t.cursors[feed] = at
	}
}

func (t *Timeline) observe(list *[]observation, o observation) {
	t.seq++
	o.seq = t.seq
	*list = append(*list, o)
}

func (t *Timeline) indexByLocalKey(key string) int {
	for i := range t.msgs {
		if t.msgs[i].LocalKey == key {
			return i
		}
	}
	return -1
}

func sameMessages(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rebuild derives the messages from the observations. Every step walks its
// observations in a canonical order, so any arrival order of the same set
// yields the same messages:
//
//  1. server records, one entry per id, dropping exact duplicates
//  2. local sends claim the closest record with the same content
//  3. upload deliveries claim the closest unclaimed entry the same way
//  4. push events carrying a local key claim the entry owning that key
//  5. other push events claim the closest entry no push has claimed
//
// Anything left unclaimed becomes an entry of its own.
func (t *Timeline) rebuild() {
	b := builder{window: t.Window, byContent: make(map[string][]*entry), tuples: make(map[string]bool)}

	ids := make(map[string]bool, len(t.records))
	for _, r := range sorted(t.records) {
		if ids[r.id] || b.tuples[r.tuple()] {
			continue
		}
		ids[r.id] = true
		b.add(&entry{rec: r})
	}
	for _, l := range sorted(t.locals) {
		if e := b.closest(l, func(e *entry) bool { return e.local == nil && e.deliv == nil }); e != nil {
			e.local = l
			continue
		}
		b.add(&entry{local: l})
	}
	for _, d := range sorted(t.deliveries) {
		if e := b.closest(d, func(e *entry) bool { return e.local == nil && e.deliv == nil }); e != nil {
			e.deliv = d
			continue
		}
		if !b.tuples[d.tuple()] {
			b.add(&entry{deliv: d})
		}
	}

	pushes := sorted(t.pushes)
	owners := b.keyOwners()
	var unkeyed []*observation
	for _, p := range pushes {
		if p.key != "" && p.sender == t.SelfID {
			if e, ok := owners[p.key]; ok {
				if e.push == nil {
					e.push = p
				}
				continue
			}
		}
		unkeyed = append(unkeyed, p)
	}
	for _, p := range unkeyed {
		if e := b.closest(p, func(e *entry) bool { return e.push == nil }); e != nil {
			e.push = p
			continue
		}
		if !b.tuples[p.tuple()] {
			b.add(&entry{push: p})
		}
	}

	sort.SliceStable(b.entries, func(i, j int) bool {
		a, c := b.entries[i], b.entries[j]
		if !a.ts().Equal(c.ts()) {
			return a.ts().Before(c.ts())
		}
		return a.firstSeq() < c.firstSeq()
	})

	used := make(map[string]bool, len(b.entries))
	msgs := make([]Message, 0, len(b.entries))
	for _, e := range b.entries {
		m := e.message(t.SelfID)
		m.LocalKey = e.pickKey(m.ID, used)
		used[m.LocalKey] = true
		msgs = append(msgs, m)
	}
	t.msgs = msgs
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
