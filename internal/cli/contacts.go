package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chatsync/internal/contacts"
	"chatsync/internal/transport"
)

func NewContactsCmd(deps *Dependencies) *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "contacts [query]",
		Short: "List people you can chat with",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			var src transport.Directory
			if loop {
				src = newLoopback(cfg.UserID, deps.Log).backend
			} else {
				src = newBackend(cfg, deps.Log)
			}

			dir := contacts.NewDirectory(src, cfg.UserID)
			if err := dir.Refresh(cmd.Context()); err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			list := dir.Filter(query)
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no contacts")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range list {
				fmt.Fprintf(tw, "(%s)\t%s\t%s\t%s\n", c.Avatar.Initial, c.Username, c.ID, c.Email)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&loop, "loopback", false, "List the built-in loopback users")
	return cmd
}
