package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/config"
	"chatsync/internal/metrics"
	"chatsync/internal/transport"
	"chatsync/internal/transport/memory"
	"chatsync/internal/transport/rest"
	"chatsync/internal/transport/telegram"
	"chatsync/internal/transport/ws"
)

// newPush builds a fresh push channel for one conversation.
func newPush(cfg *config.Config, log zerolog.Logger) (transport.Push, error) {
	switch cfg.PushTransport {
	case config.PushTelegram:
		return telegram.New(cfg.TelegramBotToken, log.With().Str("component", "telegram").Logger())
	case config.PushWebsocket:
		return ws.New(cfg.PushURL, log.With().Str("component", "ws").Logger()), nil
	}
	return nil, fmt.Errorf("unknown push transport %q", cfg.PushTransport)
}

func newBackend(cfg *config.Config, log zerolog.Logger) *rest.Client {
	return rest.New(cfg.APIURL, cfg.RequestTimeout, log.With().Str("component", "rest").Logger())
}

// loopback is an in-process server with a scripted peer.
type loopback struct {
	hub     *memory.Hub
	backend *memory.Backend
	log     zerolog.Logger
}

var demoUsers = []transport.User{
	{ID: "echo", Username: "Echo", Email: "echo@loopback.local"},
	{ID: "ada", Username: "Ada", Email: "ada@loopback.local"},
	{ID: "linus", Username: "linus", Email: "linus@loopback.local"},
}

func newLoopback(selfID string, log zerolog.Logger) *loopback {
	l := &loopback{hub: memory.NewHub(), backend: memory.NewBackend(), log: log}
	l.hub.EchoSender = true
	l.backend.AddUser(transport.User{ID: selfID, Username: selfID})
	for _, u := range demoUsers {
		l.backend.AddUser(u)
	}
	return l
}

// startPeer runs a scripted partner for peerID until ctx is done.
func (l *loopback) startPeer(ctx context.Context, peerID string) {
	p := &memory.EchoPeer{ID: peerID, Hub: l.hub, Backend: l.backend, Log: l.log}
	go func() {
		if err := p.Run(ctx); err != nil {
			l.log.Warn().Err(err).Msg("loopback peer stopped")
		}
	}()
}

// serveMetrics exposes /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log zerolog.Logger) {
	if addr == "" || m == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
