package timeline

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

// view is the comparable projection of a message.
type view struct {
	ID        string
	LocalKey  string
	SenderID  string
	Direction Direction
	Kind      Kind
	Payload   string
	Timestamp time.Time
	State     State
	Source    Source
	Pushed    bool
}

func project(tl Timeline) []view {
	out := make([]view, 0, tl.Len())
	for _, m := range tl.Messages() {
		out = append(out, view{m.ID, m.LocalKey, m.SenderID, m.Direction, m.Kind, m.Payload, m.Timestamp, m.State, m.Source, m.pushed})
	}
	return out
}

func mustInvariants(t *testing.T, tl Timeline) {
	t.Helper()
	keys := map[string]bool{}
	tuples := map[string]bool{}
	for _, m := range tl.Messages() {
		if m.State == Confirmed && m.ID == "" {
			t.Fatalf("confirmed message without id: %+v", m)
		}
		if keys[m.LocalKey] {
			t.Fatalf("duplicate local key %q", m.LocalKey)
		}
		keys[m.LocalKey] = true
		tuple := fmt.Sprintf("%s|%s|%d|%s", m.SenderID, m.Kind, m.Timestamp.UnixNano(), m.Payload)
		if tuples[tuple] {
			t.Fatalf("duplicate tuple %s", tuple)
		}
		tuples[tuple] = true
	}
}

func apply(tl Timeline, ins ...Input) Timeline {
	for _, in := range ins {
		tl, _ = Merge(tl, in)
	}
	return tl
}

func TestSnapshot_Idempotent(t *testing.T) {
	snap := Snapshot{Kind: KindText, FetchedAt: at(time.Second), Records: []Message{
		{ID: "1", SenderID: "bob", Payload: "hello", Timestamp: at(0)},
		{ID: "2", SenderID: "me", Payload: "hi", Timestamp: at(time.Second)},
	}}
	tl, changed := Merge(New("me", "bob", 0), snap)
	if !changed || tl.Len() != 2 {
		t.Fatalf("first merge: changed=%v len=%d", changed, tl.Len())
	}
	before := project(tl)
	tl2, changed := Merge(tl, snap)
	if changed {
		t.Fatalf("second merge reported a change")
	}
	after := project(tl2)
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("state changed on repeat merge:\n%v\n%v", before, after)
	}
	mustInvariants(t, tl2)
	if tl2.Messages()[0].Direction != Incoming || tl2.Messages()[1].Direction != Outgoing {
		t.Fatalf("directions not derived from sender: %+v", tl2.Messages())
	}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for pos := 0; pos <= len(p); pos++ {
			q := make([]int, 0, n)
			q = append(q, p[:pos]...)
			q = append(q, n-1)
			q = append(q, p[pos:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestMerge_Commutative(t *testing.T) {
	voiceURL := "https://cdn.example/a.mp3"
	inputs := []Input{
		Snapshot{Kind: KindText, FetchedAt: at(3 * time.Second), Records: []Message{
			{ID: "t1", SenderID: "bob", Payload: "hello", Timestamp: at(0)},
			{ID: "t2", SenderID: "me", Payload: "hi", Timestamp: at(2 * time.Second)},
		}},
		PushEvent{Kind: KindText, SenderID: "bob", Payload: "hello", Timestamp: at(300 * time.Millisecond)},
		PushEvent{Kind: KindText, SenderID: "bob", Payload: "later", Timestamp: at(5 * time.Second)},
		Snapshot{Kind: KindVoice, FetchedAt: at(3 * time.Second), Records: []Message{
			{ID: "v1", SenderID: "bob", Payload: voiceURL, Timestamp: at(time.Second)},
		}},
		PushEvent{Kind: KindVoice, SenderID: "bob", Payload: voiceURL, Timestamp: at(1200 * time.Millisecond)},
	}

	var want []view
	for _, perm := range permutations(len(inputs)) {
		tl := New("me", "bob", 0)
		for _, i := range perm {
			tl, _ = Merge(tl, inputs[i])
		}
		mustInvariants(t, tl)
		got := project(tl)
		if want == nil {
			want = got
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("order %v diverged:\n got %v\nwant %v", perm, got, want)
		}
	}

	if len(want) != 4 {
		t.Fatalf("want 4 messages, got %d: %v", len(want), want)
	}
	payloads := []string{"hello", voiceURL, "hi", "later"}
	for i, p := range payloads {
		if want[i].Payload != p {
			t.Fatalf("position %d: want %q got %q", i, p, want[i].Payload)
		}
	}
	if want[0].ID != "t1" || want[1].ID != "v1" {
		t.Fatalf("server ids not adopted: %v", want)
	}
}

func TestMerge_CommutativeWithRepeatedContent(t *testing.T) {
	inputs := []Input{
		Snapshot{Kind: KindText, FetchedAt: at(3 * time.Second), Records: []Message{
			{ID: "r1", SenderID: "bob", Payload: "ok", Timestamp: at(0)},
			{ID: "r2", SenderID: "bob", Payload: "ok", Timestamp: at(1050 * time.Millisecond)},
		}},
		PushEvent{Kind: KindText, SenderID: "bob", Payload: "ok", Timestamp: at(time.Second)},
		PushEvent{Kind: KindText, SenderID: "bob", Payload: "ok", Timestamp: at(31 * time.Second)},
		LocalSend{LocalKey: "k1", Payload: "ok", Timestamp: at(2 * time.Second)},
		PushEvent{Kind: KindText, SenderID: "me", Payload: "ok", LocalKey: "k1", Timestamp: at(2100 * time.Millisecond)},
		Snapshot{Kind: KindText, FetchedAt: at(4 * time.Second), Records: []Message{
			{ID: "r3", SenderID: "me", Payload: "ok", Timestamp: at(2050 * time.Millisecond)},
		}},
	}

	var want []view
	for _, perm := range permutations(len(inputs)) {
		tl := New("me", "bob", 0)
		for _, i := range perm {
			tl, _ = Merge(tl, inputs[i])
		}
		mustInvariants(t, tl)
		got := project(tl)
		if want == nil {
			want = got
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("order %v diverged:\n got %v\nwant %v", perm, got, want)
		}
	}

	if len(want) != 4 {
		t.Fatalf("want 4 messages, got %d: %v", len(want), want)
	}
	if want[0].ID != "r1" || want[1].ID != "r2" || want[2].ID != "r3" {
		t.Fatalf("server ids not adopted: %v", want)
	}
	if !want[1].Pushed || want[0].Pushed {
		t.Fatalf("push matched the wrong record: %v", want)
	}
	if want[2].LocalKey != "k1" || want[2].Direction != Outgoing {
		t.Fatalf("local send not folded into r3: %+v", want[2])
	}
	if want[3].Source != SourcePush || !want[3].Timestamp.Equal(at(31*time.Second)) {
		t.Fatalf("late push should stand alone: %+v", want[3])
	}
}

func TestLocalSend_PromotedOnceBySnapshot(t *testing.T) {
	tl := apply(New("me", "bob", 0), LocalSend{LocalKey: "k1", Payload: "hi", Timestamp: at(0)})
	msgs := tl.Messages()
	if len(msgs) != 1 || msgs[0].State != Pending || msgs[0].ID != "" || msgs[0].Direction != Outgoing {
		t.Fatalf("unexpected optimistic entry: %+v", msgs)
	}

	snap := Snapshot{Kind: KindText, FetchedAt: at(time.Second), Records: []Message{
		{ID: "s1", SenderID: "me", Payload: "hi", Timestamp: at(400 * time.Millisecond)},
	}}
	tl = apply(tl, snap, snap)
	msgs = tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("want exactly one entry, got %d", len(msgs))
	}
	m := msgs[0]
	if m.State != Confirmed || m.ID != "s1" || m.LocalKey != "k1" || !m.Timestamp.Equal(at(400*time.Millisecond)) {
		t.Fatalf("not promoted correctly: %+v", m)
	}
	mustInvariants(t, tl)
}

func TestLocalSend_PromotedByEcho(t *testing.T) {
	tl := apply(New("me", "bob", 0), LocalSend{LocalKey: "k1", Payload: "hi", Timestamp: at(0)})
	echo := PushEvent{Kind: KindText, SenderID: "me", Payload: "hi", LocalKey: "k1", Timestamp: at(150 * time.Millisecond)}

	tl, changed := Merge(tl, echo)
	if !changed {
		t.Fatalf("echo should promote")
	}
	m := tl.Messages()[0]
	if m.State != Confirmed || m.ID == "" || m.Source != SourcePush {
		t.Fatalf("echo did not confirm: %+v", m)
	}
	if _, changed := Merge(tl, echo); changed {
		t.Fatalf("repeated echo changed the timeline")
	}

	// the later snapshot swaps the provisional id for the server one
	tl = apply(tl, Snapshot{Kind: KindText, Records: []Message{
		{ID: "srv", SenderID: "me", Payload: "hi", Timestamp: at(200 * time.Millisecond)},
	}})
	if tl.Len() != 1 || tl.Messages()[0].ID != "srv" {
		t.Fatalf("snapshot did not adopt server id: %+v", tl.Messages())
	}
}

func TestPending_SurvivesSnapshotWithoutIt(t *testing.T) {
	tl := apply(New("me", "bob", 0),
		LocalSend{LocalKey: "k1", Payload: "not yet", Timestamp: at(0)},
		Snapshot{Kind: KindText, Records: []Message{{ID: "x", SenderID: "bob", Payload: "other", Timestamp: at(time.Second)}}},
		Snapshot{Kind: KindText},
	)
	if tl.Len() != 2 || tl.PendingCount() != 1 {
		t.Fatalf("pending entry lost: %+v", tl.Messages())
	}
}

func TestPushThenPoll_NoDuplicate(t *testing.T) {
	tl := apply(New("me", "bob", 0),
		PushEvent{Kind: KindText, SenderID: "bob", Payload: "hello", Timestamp: at(0)},
		Snapshot{Kind: KindText, FetchedAt: at(100 * time.Millisecond)},
	)
	msgs := tl.Messages()
	if len(msgs) != 1 || msgs[0].Direction != Incoming || msgs[0].State != Confirmed {
		t.Fatalf("want one incoming hello, got %+v", msgs)
	}

	tl = apply(tl, Snapshot{Kind: KindText, FetchedAt: at(time.Second), Records: []Message{
		{ID: "h1", SenderID: "bob", Payload: "hello", Timestamp: at(-200 * time.Millisecond)},
	}})
	if tl.Len() != 1 || tl.Messages()[0].ID != "h1" {
		t.Fatalf("persisted copy duplicated the pushed message: %+v", tl.Messages())
	}
	mustInvariants(t, tl)
}

func TestRepeatedIdenticalMessagesStayDistinct(t *testing.T) {
	tl := apply(New("me", "bob", 0),
		PushEvent{Kind: KindText, SenderID: "bob", Payload: "ok", Timestamp: at(0)},
		PushEvent{Kind: KindText, SenderID: "bob", Payload: "ok", Timestamp: at(500 * time.Millisecond)},
		Snapshot{Kind: KindText, Records: []Message{
			{ID: "o1", SenderID: "bob", Payload: "ok", Timestamp: at(100 * time.Millisecond)},
			{ID: "o2", SenderID: "bob", Payload: "ok", Timestamp: at(600 * time.Millisecond)},
		}},
	)
	msgs := tl.Messages()
	if len(msgs) != 2 || msgs[0].ID != "o1" || msgs[1].ID != "o2" {
		t.Fatalf("unexpected reconciliation: %+v", msgs)
	}
}

func TestSnapshot_DropsExactDuplicateTuple(t *testing.T) {
	tl := apply(New("me", "bob", 0), Snapshot{Kind: KindText, Records: []Message{
		{ID: "a", SenderID: "bob", Payload: "dup", Timestamp: at(0)},
		{ID: "b", SenderID: "bob", Payload: "dup", Timestamp: at(0)},
	}})
	if tl.Len() != 1 {
		t.Fatalf("want one entry per tuple, got %d", tl.Len())
	}
}

func TestOrdering_InterleavesKinds(t *testing.T) {
	tl := apply(New("me", "bob", 0),
		Snapshot{Kind: KindVoice, Records: []Message{
			{ID: "v1", SenderID: "bob", Payload: "u1", Timestamp: at(time.Second)},
			{ID: "v2", SenderID: "me", Payload: "u2", Timestamp: at(3 * time.Second)},
		}},
		Snapshot{Kind: KindText, Records: []Message{
			{ID: "t1", SenderID: "me", Payload: "a", Timestamp: at(0)},
			{ID: "t2", SenderID: "bob", Payload: "b", Timestamp: at(2 * time.Second)},
			{ID: "t3", SenderID: "bob", Payload: "c", Timestamp: at(3 * time.Second)},
		}},
	)
	var ids []string
	for _, m := range tl.Messages() {
		ids = append(ids, m.ID)
	}
	if got := fmt.Sprint(ids); got != "[t1 v1 t2 v2 t3]" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestDelivered_ReconcilesWithVoiceSnapshot(t *testing.T) {
	url := "https://cdn.example/me.mp3"
	snap := Snapshot{Kind: KindVoice, Records: []Message{{ID: "v9", SenderID: "me", Payload: url, Timestamp: at(time.Second)}}}
	delivered := Delivered{LocalKey: "up1", URL: url, Timestamp: at(0)}

	for name, order := range map[string][]Input{
		"upload first": {delivered, snap},
		"poll first":   {snap, delivered},
	} {
		tl := apply(New("me", "bob", 0), order...)
		msgs := tl.Messages()
		if len(msgs) != 1 || msgs[0].ID != "v9" || msgs[0].State != Confirmed || msgs[0].Direction != Outgoing {
			t.Fatalf("%s: unexpected %+v", name, msgs)
		}
	}
}

func TestCursorsOnlyAdvance(t *testing.T) {
	tl := apply(New("me", "bob", 0),
		Snapshot{Kind: KindText, FetchedAt: at(5 * time.Second)},
		Snapshot{Kind: KindText, FetchedAt: at(2 * time.Second)},
		Snapshot{Kind: KindVoice, FetchedAt: at(time.Second)},
	)
	if !tl.Cursor(FeedText).Equal(at(5 * time.Second)) {
		t.Fatalf("text cursor regressed: %v", tl.Cursor(FeedText))
	}
	if !tl.Cursor(FeedVoice).Equal(at(time.Second)) {
		t.Fatalf("voice cursor: %v", tl.Cursor(FeedVoice))
	}
	if !tl.Cursor(FeedPush).IsZero() {
		t.Fatalf("push cursor should be unset")
	}
}

func TestStalePending(t *testing.T) {
	tl := apply(New("me", "bob", 0),
		LocalSend{LocalKey: "old", Payload: "1", Timestamp: at(0)},
		LocalSend{LocalKey: "new", Payload: "2", Timestamp: at(50 * time.Second)},
	)
	stale := tl.StalePending(at(60*time.Second), 30*time.Second)
	if len(stale) != 1 || stale[0].LocalKey != "old" {
		t.Fatalf("unexpected stale set: %+v", stale)
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	base := apply(New("me", "bob", 0), LocalSend{LocalKey: "k", Payload: "x", Timestamp: at(0)})
	_, _ = Merge(base, Snapshot{Kind: KindText, Records: []Message{{ID: "1", SenderID: "me", Payload: "x", Timestamp: at(0)}}})
	if base.Messages()[0].State != Pending {
		t.Fatalf("Merge mutated its input")
	}
}

func TestEngine_SerializesConcurrentApplies(t *testing.T) {
	e := NewEngine("me", "bob", 0)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				e.Apply(PushEvent{Kind: KindText, SenderID: "bob", Payload: fmt.Sprintf("%d-%d", g, i), Timestamp: at(time.Duration(i) * time.Millisecond)})
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if n := len(e.Snapshot()); n != 400 {
		t.Fatalf("want 400 messages, got %d", n)
	}
	mustInvariants(t, e.Timeline())
}

func TestEngine_ReportsPromotions(t *testing.T) {
	e := NewEngine("me", "bob", 0)
	r := e.Apply(LocalSend{LocalKey: "k", Payload: "hi", Timestamp: at(0)})
	if !r.Changed || r.Pending != 1 || r.Promoted != 0 {
		t.Fatalf("local send result: %+v", r)
	}
	if !e.HasLocalKey("k") || e.HasLocalKey("other") {
		t.Fatalf("HasLocalKey mismatch")
	}
	r = e.Apply(Snapshot{Kind: KindText, Records: []Message{{ID: "1", SenderID: "me", Payload: "hi", Timestamp: at(time.Second)}}})
	if !r.Changed || r.Pending != 0 || r.Promoted != 1 {
		t.Fatalf("snapshot result: %+v", r)
	}
}
