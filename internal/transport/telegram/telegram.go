// Package telegram carries the push channel over a Telegram bot: each peer
// is a chat, incoming chat messages become push events and emitted events
// become bot messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"chatsync/internal/transport"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

var ErrSubscribed = errors.New("telegram updates already being received")

// Push implements transport.Push on top of the Bot API.
type Push struct {
	api botAPI
	log zerolog.Logger

	mu     sync.Mutex
	active bool
}

func New(botToken string, log zerolog.Logger) (*Push, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Msg("telegram push channel ready")
	return &Push{api: api, log: log}, nil
}

func (p *Push) Subscribe(ctx context.Context, selfID string) (transport.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil, ErrSubscribed
	}
	p.active = true

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	s := &subscription{
		push:    p,
		selfID:  selfID,
		updates: p.api.GetUpdatesChan(u),
		events:  make(chan transport.Event, 64),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (p *Push) Emit(_ context.Context, out transport.Outgoing) error {
	chatID, err := strconv.ParseInt(out.To, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram recipient %q is not a chat id: %w", out.To, err)
	}
	var c tgbotapi.Chattable
	switch out.Type {
	case transport.SendTextEvent:
		c = tgbotapi.NewMessage(chatID, out.Body)
	case transport.SendVoiceEvent:
		c = tgbotapi.NewVoice(chatID, tgbotapi.FileURL(out.URL))
	default:
		return fmt.Errorf("unknown outgoing event %q", out.Type)
	}
	if _, err := p.api.Send(c); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// eventFrom converts an incoming chat message. The chat is the peer; the
// subscriber is the recipient.
func (p *Push) eventFrom(selfID string, msg *tgbotapi.Message) (transport.Event, bool) {
	if msg == nil || msg.Chat == nil {
		return transport.Event{}, false
	}
	ev := transport.Event{
		From: strconv.FormatInt(msg.Chat.ID, 10),
		To:   selfID,
		ID:   "tg-" + strconv.FormatInt(msg.Chat.ID, 10) + "-" + strconv.Itoa(msg.MessageID),
		At:   msg.Time().UTC(),
	}
	var fileID string
	switch {
	case msg.Voice != nil:
		fileID = msg.Voice.FileID
	case msg.Audio != nil:
		fileID = msg.Audio.FileID
	case msg.Text != "":
		ev.Type, ev.Body = transport.TextReceived, msg.Text
		return ev, true
	default:
		return transport.Event{}, false
	}
	url, err := p.api.GetFileDirectURL(fileID)
	if err != nil {
		p.log.Warn().Err(err).Str("chat", ev.From).Msg("voice file url lookup failed")
		return transport.Event{}, false
	}
	ev.Type, ev.URL = transport.VoiceReceived, url
	return ev, true
}

type subscription struct {
	push    *Push
	selfID  string
	updates tgbotapi.UpdatesChannel
	events  chan transport.Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Events() <-chan transport.Event { return s.events }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.push.api.StopReceivingUpdates()
		s.push.mu.Lock()
		s.push.active = false
		s.push.mu.Unlock()
	})
	return nil
}

func (s *subscription) loop() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case update, ok := <-s.updates:
			if !ok {
				return
			}
			ev, ok := s.push.eventFrom(s.selfID, update.Message)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}
