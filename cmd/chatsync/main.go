package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"chatsync/internal/cli"
	"chatsync/internal/config"
	"chatsync/internal/logging"
	"chatsync/internal/metrics"
	"chatsync/internal/storage"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log := logging.For("main")
		log.Warn().Err(err).Msg(".env file not found")
	}

	cfg := config.New()
	log := logging.Init(cfg.LogLevel, cfg.LogFormat)

	deps := &cli.Dependencies{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
		Journal: openJournal(cfg.JournalFilePath),
	}

	if err := cli.NewRootCmd(deps).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openJournal returns nil when path is empty or the journal cannot be
// created; sessions then run without one.
func openJournal(path string) storage.Journal {
	if path == "" {
		return nil
	}
	j, err := storage.NewFileJournal(path)
	if err != nil {
		log := logging.For("storage")
		log.Warn().Err(err).Str("path", path).Msg("failed to init sync journal")
		return nil
	}
	return j
}
