package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"chatsync/internal/transport"
)

// EchoPeer is a scripted conversation partner: it answers every text it
// receives and acknowledges every voice note.
type EchoPeer struct {
	ID      string
	Hub     *Hub
	Backend *Backend
	Log     zerolog.Logger
}

// Run serves until ctx is done.
func (p *EchoPeer) Run(ctx context.Context) error {
	sub, err := p.Hub.Subscribe(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("subscribe echo peer: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			// our own replies come back when the hub echoes senders
			if ev.From == p.ID {
				continue
			}
			if err := p.reply(ctx, ev); err != nil {
				p.Log.Warn().Err(err).Str("to", ev.From).Msg("echo reply failed")
			}
		}
	}
}

func (p *EchoPeer) reply(ctx context.Context, ev transport.Event) error {
	body := "echo: " + ev.Body
	if ev.Type == transport.VoiceReceived {
		body = "got your voice note " + ev.URL
	}
	if err := p.Backend.SendText(ctx, p.ID, ev.From, body); err != nil {
		return err
	}
	return p.Hub.Emit(ctx, transport.Outgoing{
		Type: transport.SendTextEvent,
		From: p.ID,
		To:   ev.From,
		Body: body,
	})
}
