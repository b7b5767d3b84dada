package telegram

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"chatsync/internal/transport"
)

type fakeAPI struct {
	sent    []tgbotapi.Chattable
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeAPI) StopReceivingUpdates() { f.stopped = true }

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return "https://api.telegram.org/file/bot/" + fileID, nil
}

func TestSubscribe_TranslatesUpdates(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 4)}
	p := &Push{api: api, log: zerolog.Nop()}
	sub, err := p.Subscribe(context.Background(), "me")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := p.Subscribe(context.Background(), "me"); err != ErrSubscribed {
		t.Fatalf("second subscribe: %v", err)
	}

	chat := &tgbotapi.Chat{ID: 42}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 1, Chat: chat, Text: "hello", Date: 1705320000}}
	api.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{}}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 2, Chat: chat, Voice: &tgbotapi.Voice{FileID: "f1"}, Date: 1705320001}}

	text := next(t, sub)
	if text.Type != transport.TextReceived || text.From != "42" || text.To != "me" || text.Body != "hello" {
		t.Fatalf("text event: %+v", text)
	}
	if !text.At.Equal(time.Unix(1705320000, 0)) || text.ID != "tg-42-1" {
		t.Fatalf("text identity: %+v", text)
	}
	voice := next(t, sub)
	if voice.Type != transport.VoiceReceived || voice.URL != "https://api.telegram.org/file/bot/f1" {
		t.Fatalf("voice event: %+v", voice)
	}

	_ = sub.Close()
	if !api.stopped {
		t.Fatalf("updates not stopped")
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("events channel still open")
	}
	if _, err := p.Subscribe(context.Background(), "me"); err != nil {
		t.Fatalf("resubscribe after close: %v", err)
	}
}

func TestEmit(t *testing.T) {
	api := &fakeAPI{}
	p := &Push{api: api, log: zerolog.Nop()}
	ctx := context.Background()

	if err := p.Emit(ctx, transport.Outgoing{Type: transport.SendTextEvent, From: "me", To: "42", Body: "hi"}); err != nil {
		t.Fatalf("Emit text: %v", err)
	}
	if err := p.Emit(ctx, transport.Outgoing{Type: transport.SendVoiceEvent, From: "me", To: "42", URL: "https://cdn/v.mp3"}); err != nil {
		t.Fatalf("Emit voice: %v", err)
	}
	if err := p.Emit(ctx, transport.Outgoing{Type: transport.SendTextEvent, To: "bob"}); err == nil {
		t.Fatalf("non-numeric chat id accepted")
	}
	if len(api.sent) != 2 {
		t.Fatalf("sent %d", len(api.sent))
	}
	msg := api.sent[0].(tgbotapi.MessageConfig)
	if msg.ChatID != 42 || msg.Text != "hi" {
		t.Fatalf("text message: %+v", msg)
	}
	voice := api.sent[1].(tgbotapi.VoiceConfig)
	if voice.ChatID != 42 || voice.File != tgbotapi.FileURL("https://cdn/v.mp3") {
		t.Fatalf("voice message: %+v", voice)
	}
}

func next(t *testing.T, sub transport.Subscription) transport.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event")
	}
	return transport.Event{}
}
