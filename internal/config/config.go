package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/dustin/go-humanize"
)

type PushTransport string

const (
	PushWebsocket PushTransport = "websocket"
	PushTelegram  PushTransport = "telegram"
)

// ByteSize is a size read from strings such as "10MB" or "512 KiB".
type ByteSize uint64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("parse byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string { return humanize.Bytes(uint64(b)) }

type Config struct {
	UserID string `env:"CHAT_USER_ID,required"`

	// Backend
	APIURL         string        `env:"CHAT_API_URL" envDefault:"https://mobilechatappbackend.onrender.com/api"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Push channel
	PushTransport    PushTransport `env:"CHAT_PUSH_TRANSPORT" envDefault:"websocket"`
	PushURL          string        `env:"CHAT_PUSH_URL" envDefault:"wss://mobilechatappbackend.onrender.com/ws"`
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`

	// Sync
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	MatchWindow  time.Duration `env:"MATCH_WINDOW" envDefault:"30s"`

	// Voice notes
	MaxUploadSize     ByteSize `env:"MAX_UPLOAD_SIZE" envDefault:"10MB"`
	RecordingDir      string   `env:"RECORDING_DIR" envDefault:"data/recordings"`
	FFmpegInputFormat string   `env:"FFMPEG_INPUT_FORMAT" envDefault:"pulse"`
	FFmpegInputDevice string   `env:"FFMPEG_INPUT_DEVICE" envDefault:"default"`

	// Storage
	JournalFilePath string `env:"JOURNAL_FILE_PATH" envDefault:"logs/sync.jsonl"`

	// Observability
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New is Load for process startup: it exits on error.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.UserID == "" {
		return fmt.Errorf("CHAT_USER_ID must not be empty")
	}
	switch c.PushTransport {
	case PushWebsocket:
		if c.PushURL == "" {
			return fmt.Errorf("CHAT_PUSH_URL is required for the websocket transport")
		}
	case PushTelegram:
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required for the telegram transport")
		}
	default:
		return fmt.Errorf("unknown CHAT_PUSH_TRANSPORT %q", c.PushTransport)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.MatchWindow <= 0 {
		return fmt.Errorf("MATCH_WINDOW must be positive, got %s", c.MatchWindow)
	}
	return nil
}
