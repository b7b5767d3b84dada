package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHAT_USER_ID", "u1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserID != "u1" {
		t.Fatalf("user id: %q", cfg.UserID)
	}
	if cfg.PollInterval != time.Second || cfg.MatchWindow != 30*time.Second || cfg.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.MaxUploadSize != 10*1000*1000 {
		t.Fatalf("max upload size: %d", cfg.MaxUploadSize)
	}
	if cfg.PushTransport != PushWebsocket || !strings.HasPrefix(cfg.APIURL, "https://") {
		t.Fatalf("unexpected transport defaults: %+v", cfg)
	}
}

func TestNew(t *testing.T) {
	t.Setenv("CHAT_USER_ID", "u2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := New()
	if cfg.UserID != "u2" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAT_USER_ID", "u1")
	t.Setenv("MAX_UPLOAD_SIZE", "2 MiB")
	t.Setenv("POLL_INTERVAL", "3s")
	t.Setenv("CHAT_PUSH_TRANSPORT", "telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxUploadSize != 2<<20 {
		t.Fatalf("max upload size: %d", cfg.MaxUploadSize)
	}
	if cfg.MaxUploadSize.String() != "2.1 MB" {
		t.Fatalf("size string: %s", cfg.MaxUploadSize)
	}
	if cfg.PollInterval != 3*time.Second || cfg.PushTransport != PushTelegram {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing user", map[string]string{}},
		{"bad size", map[string]string{"CHAT_USER_ID": "u", "MAX_UPLOAD_SIZE": "lots"}},
		{"telegram without token", map[string]string{"CHAT_USER_ID": "u", "CHAT_PUSH_TRANSPORT": "telegram"}},
		{"unknown transport", map[string]string{"CHAT_USER_ID": "u", "CHAT_PUSH_TRANSPORT": "pigeon"}},
		{"zero window", map[string]string{"CHAT_USER_ID": "u", "MATCH_WINDOW": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHAT_USER_ID", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
