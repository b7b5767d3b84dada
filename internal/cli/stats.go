package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/analytics"
)

type pruner interface {
	Prune(before time.Time) (int, error)
}

func NewStatsCmd(deps *Dependencies) *cobra.Command {
	var (
		date   string
		asJSON bool
		keep   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the sync journal for one day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.Journal == nil {
				return fmt.Errorf("journal is not configured")
			}
			out := cmd.OutOrStdout()

			if keep > 0 {
				p, ok := deps.Journal.(pruner)
				if !ok {
					return fmt.Errorf("journal does not support pruning")
				}
				n, err := p.Prune(time.Now().Add(-keep))
				if err != nil {
					return fmt.Errorf("prune journal: %w", err)
				}
				fmt.Fprintf(out, "pruned %d events\n", n)
			}

			day := time.Now()
			if date != "" {
				d, err := time.ParseInLocation("2006-01-02", date, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
				day = d
			}

			events, err := deps.Journal.Load()
			if err != nil {
				return fmt.Errorf("load journal: %w", err)
			}
			stats := analytics.Summarize(events, day)
			if asJSON {
				js, err := stats.ToJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, js)
				return nil
			}
			fmt.Fprint(out, stats.Report())
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to summarize (YYYY-MM-DD), default today")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	cmd.Flags().DurationVar(&keep, "keep", 0, "Drop journal events older than this before summarizing")
	return cmd
}
