// Package session runs one open conversation: it polls both snapshot feeds,
// listens on the push channel, and routes local sends, all through a single
// merge engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatsync/internal/metrics"
	"chatsync/internal/scheduler"
	"chatsync/internal/storage"
	"chatsync/internal/timeline"
	"chatsync/internal/transport"
	"chatsync/internal/upload"
)

var (
	ErrFetchFailure = errors.New("fetch failed")
	ErrAlreadyOpen  = errors.New("session already open")
	ErrNotOpen      = errors.New("session not open")
	ErrClosed       = errors.New("session closed")
	ErrEmptyMessage = errors.New("empty message")
)

type Options struct {
	SelfID       string
	PollInterval time.Duration
	MatchWindow  time.Duration
}

// Deps are the collaborators a session uses. Backend and Push are
// required; the rest may be left zero.
type Deps struct {
	Backend transport.Backend
	Push    transport.Push
	Journal storage.Journal
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
	NewKey  func() string
}

type state int

const (
	stateIdle state = iota
	stateOpen
	stateClosed
)

// Session owns one conversation timeline. Open and Close must be paired;
// a closed session cannot be reopened.
type Session struct {
	peer   string
	opts   Options
	deps   Deps
	log    zerolog.Logger
	engine *timeline.Engine

	mu            sync.Mutex
	state         state
	runCtx        context.Context
	cancel        context.CancelFunc
	sched         *scheduler.Scheduler
	sub           transport.Subscription
	wg            sync.WaitGroup
	updates       chan struct{}
	updatesClosed bool
}

func New(peer string, opts Options, deps Deps) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewKey == nil {
		deps.NewKey = uuid.NewString
	}
	return &Session{
		peer:    peer,
		opts:    opts,
		deps:    deps,
		log:     deps.Log.With().Str("peer", peer).Logger(),
		engine:  timeline.NewEngine(opts.SelfID, peer, opts.MatchWindow),
		updates: make(chan struct{}, 1),
	}
}

func (s *Session) Peer() string { return s.peer }

// Open subscribes to the push channel and starts both poll loops. A failed
// subscription is logged and the session runs on polling alone.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateOpen:
		return ErrAlreadyOpen
	case stateClosed:
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sched := scheduler.New(s.log)
	for _, kind := range []timeline.Kind{timeline.KindText, timeline.KindVoice} {
		kind := kind // per-iteration copy; module targets go1.21 loop semantics
		err := sched.Every(s.opts.PollInterval, "poll-"+string(kind), func(ctx context.Context) {
			_ = s.poll(ctx, kind)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("schedule %s poll: %w", kind, err)
		}
	}

	sub, err := s.deps.Push.Subscribe(ctx, s.opts.SelfID)
	if err != nil {
		s.log.Warn().Err(err).Msg("push subscription failed, relying on polling")
		s.journal(storage.PushFailed, "push", err.Error())
		sub = nil
	}

	s.runCtx, s.cancel, s.sched, s.sub = runCtx, cancel, sched, sub
	s.state = stateOpen
	if sub != nil {
		s.wg.Add(1)
		go s.consume(runCtx, sub)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Refresh(runCtx)
	}()
	sched.Start()

	s.deps.Metrics.SessionOpened()
	s.journal(storage.SessionOpened, "", "")
	s.log.Info().Dur("poll", s.opts.PollInterval).Bool("push", sub != nil).Msg("conversation opened")
	return nil
}

// Close stops polling, drops the subscription and waits for in-flight
// work. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != stateOpen {
		s.state = stateClosed
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	s.cancel()
	sched, sub := s.sched, s.sub
	s.mu.Unlock()

	sched.Stop()
	var err error
	if sub != nil {
		err = sub.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.updatesClosed = true
	close(s.updates)
	s.mu.Unlock()

	s.deps.Metrics.SessionClosed(s.peer)
	s.journal(storage.SessionClosed, "", "")
	s.log.Info().Msg("conversation closed")
	return err
}

// Refresh polls both feeds once. Failures leave the timeline as it was
// and are returned wrapped in ErrFetchFailure.
func (s *Session) Refresh(ctx context.Context) error {
	return errors.Join(s.poll(ctx, timeline.KindText), s.poll(ctx, timeline.KindVoice))
}

func (s *Session) poll(ctx context.Context, kind timeline.Kind) error {
	fetch := s.deps.Backend.FetchTextMessages
	if kind == timeline.KindVoice {
		fetch = s.deps.Backend.FetchVoiceMessages
	}
	recs, err := fetch(ctx, s.opts.SelfID, s.peer)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s feed: %w", ErrFetchFailure, kind, err)
		}
		s.deps.Metrics.FetchFailed(string(kind))
		s.journal(storage.FetchFailed, string(kind), err.Error())
		s.log.Warn().Err(err).Str("feed", string(kind)).Msg("poll failed")
		return fmt.Errorf("%w: %s feed: %w", ErrFetchFailure, kind, err)
	}

	snap := timeline.Snapshot{Kind: kind, FetchedAt: s.deps.Now(), Records: make([]timeline.Message, 0, len(recs))}
	for _, r := range recs {
		snap.Records = append(snap.Records, timeline.Message{
			ID:        r.ID,
			SenderID:  r.SenderID,
			Kind:      kind,
			Payload:   r.Payload,
			Timestamp: r.CreatedAt,
		})
	}
	s.apply(snap, "snapshot")
	return nil
}

func (s *Session) consume(ctx context.Context, sub transport.Subscription) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if ctx.Err() == nil {
					s.log.Warn().Msg("push channel ended, relying on polling")
					s.journal(storage.PushFailed, "push", "subscription ended")
				}
				return
			}
			s.handleEvent(ev)
		}
	}
}

// relevant reports whether ev belongs to this conversation: either the peer
// wrote to us, or it is our own echo of a message to the peer.
func (s *Session) relevant(ev transport.Event) bool {
	self := s.opts.SelfID
	switch ev.From {
	case s.peer:
		return ev.To == "" || ev.To == self
	case self:
		if ev.To == s.peer {
			return true
		}
		return ev.To == "" && ev.LocalKey != "" && s.engine.HasLocalKey(ev.LocalKey)
	}
	return false
}

func (s *Session) handleEvent(ev transport.Event) {
	ok := s.relevant(ev)
	s.deps.Metrics.PushEvent(string(ev.Type), ok)
	if !ok {
		return
	}
	in := timeline.PushEvent{
		SenderID:  ev.From,
		LocalKey:  ev.LocalKey,
		ID:        ev.ID,
		Timestamp: ev.At,
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = s.deps.Now()
	}
	switch ev.Type {
	case transport.TextReceived:
		in.Kind, in.Payload = timeline.KindText, ev.Body
	case transport.VoiceReceived:
		in.Kind, in.Payload = timeline.KindVoice, ev.URL
	default:
		s.log.Debug().Str("type", string(ev.Type)).Msg("ignoring push event")
		return
	}
	s.apply(in, "push")
}

// Send inserts an optimistic entry and delivers it in the background. The
// entry stays pending if delivery fails.
func (s *Session) Send(text string) (localKey string, err error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}
	ctx, err := s.begin()
	if err != nil {
		return "", err
	}
	key := s.deps.NewKey()
	s.apply(timeline.LocalSend{LocalKey: key, Kind: timeline.KindText, Payload: text, Timestamp: s.deps.Now()}, "local")

	go func() {
		defer s.wg.Done()
		s.deliverText(ctx, key, text)
	}()
	return key, nil
}

func (s *Session) deliverText(ctx context.Context, key, text string) {
	log := s.log.With().Str("local_key", key).Logger()
	err := s.deps.Push.Emit(ctx, transport.Outgoing{
		Type:     transport.SendTextEvent,
		From:     s.opts.SelfID,
		To:       s.peer,
		Body:     text,
		LocalKey: key,
	})
	if err != nil {
		log.Warn().Err(err).Msg("push emit failed")
		s.journal(storage.EmitFailed, "push", err.Error())
	}
	if err := s.deps.Backend.SendText(ctx, s.opts.SelfID, s.peer, text); err != nil {
		log.Warn().Err(err).Msg("persist failed, message stays pending")
		s.deps.Metrics.Sent("text", "failed")
		s.journal(storage.SendFailed, "text", err.Error())
		return
	}
	s.deps.Metrics.Sent("text", "ok")
	s.journal(storage.Sent, "text", "")
}

// SendVoice records an already uploaded voice note and notifies the peer
// in the background.
func (s *Session) SendVoice(ref upload.Ref) error {
	ctx, err := s.begin()
	if err != nil {
		return err
	}
	key := s.insertVoice(ref)
	go func() {
		defer s.wg.Done()
		if err := s.emitVoice(ctx, key, ref.URL); err != nil {
			s.log.Warn().Err(err).Msg("voice emit failed")
		}
	}()
	return nil
}

// PublishVoice is SendVoice with a synchronous notification. It lets the
// session act as the uploader's publisher.
func (s *Session) PublishVoice(ctx context.Context, ref upload.Ref) error {
	if _, err := s.begin(); err != nil {
		return err
	}
	defer s.wg.Done()
	key := s.insertVoice(ref)
	return s.emitVoice(ctx, key, ref.URL)
}

// UploadRecording uploads a captured file and, on success, publishes it
// into this conversation. The file is left in place either way.
func (s *Session) UploadRecording(ctx context.Context, up *upload.Uploader, path string) (upload.Ref, error) {
	ref, err := up.Upload(ctx, path, s.opts.SelfID, s.peer, s)
	if err != nil {
		s.journal(storage.UploadFailed, "voice", err.Error())
		return upload.Ref{}, err
	}
	s.journal(storage.Uploaded, "voice", ref.URL)
	return ref, nil
}

func (s *Session) insertVoice(ref upload.Ref) string {
	at := ref.UploadedAt
	if at.IsZero() {
		at = s.deps.Now()
	}
	key := s.deps.NewKey()
	s.apply(timeline.Delivered{LocalKey: key, URL: ref.URL, Timestamp: at}, "upload")
	return key
}

func (s *Session) emitVoice(ctx context.Context, key, url string) error {
	err := s.deps.Push.Emit(ctx, transport.Outgoing{
		Type:     transport.SendVoiceEvent,
		From:     s.opts.SelfID,
		To:       s.peer,
		URL:      url,
		LocalKey: key,
	})
	if err != nil {
		s.deps.Metrics.Sent("voice", "failed")
		s.journal(storage.EmitFailed, "voice", err.Error())
		return fmt.Errorf("announce voice note: %w", err)
	}
	s.deps.Metrics.Sent("voice", "ok")
	return nil
}

// begin registers background work against an open session.
func (s *Session) begin() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateIdle:
		return nil, ErrNotOpen
	case stateClosed:
		return nil, ErrClosed
	}
	s.wg.Add(1)
	return s.runCtx, nil
}

func (s *Session) apply(in timeline.Input, label string) {
	r := s.engine.Apply(in)
	s.deps.Metrics.Merge(label, r.Changed)
	if !r.Changed {
		return
	}
	s.deps.Metrics.SetPending(s.peer, r.Pending)
	if r.Promoted > 0 {
		s.journal(storage.Promoted, label, fmt.Sprintf("%d confirmed", r.Promoted))
	}
	s.notify()
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updatesClosed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) journal(t storage.EventType, feed, detail string) {
	if s.deps.Journal == nil {
		return
	}
	ev := storage.Event{Timestamp: s.deps.Now(), Peer: s.peer, Type: t, Feed: feed, Detail: detail}
	if err := s.deps.Journal.Append(ev); err != nil {
		s.log.Debug().Err(err).Msg("journal append failed")
	}
}

// Timeline returns the current ordered messages. Callers get a copy.
func (s *Session) Timeline() []timeline.Message { return s.engine.Snapshot() }

// Updates signals after each change to the timeline. Signals coalesce; the
// channel is closed by Close.
func (s *Session) Updates() <-chan struct{} { return s.updates }

func (s *Session) PendingCount() int { return s.engine.PendingCount() }

// StalePending lists entries still pending after age.
func (s *Session) StalePending(age time.Duration) []timeline.Message {
	return s.engine.StalePending(s.deps.Now(), age)
}
