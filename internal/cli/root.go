package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatsync/internal/config"
	"chatsync/internal/metrics"
	"chatsync/internal/storage"
)

// Version is set at build time.
var Version = "dev"

type Dependencies struct {
	Config  *config.Config
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	Journal storage.Journal
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Terminal client for the chat backend",
		Long:          "Open conversations, send text and voice notes, and inspect sync health.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = Version

	rootCmd.AddCommand(NewChatCmd(deps))
	rootCmd.AddCommand(NewContactsCmd(deps))
	rootCmd.AddCommand(NewStatsCmd(deps))
	return rootCmd
}
