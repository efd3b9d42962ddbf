package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cascade-tools/cascade/internal/git"
	"github.com/cascade-tools/cascade/internal/state"
	"github.com/cascade-tools/cascade/internal/status"
)

// SessionsCmd returns the sessions command
func SessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved propagation sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			logger := slog.New(slog.DiscardHandler)
			store := state.NewStore(git.NewClient(cfg.Workspace, logger).SessionsDir(), logger)

			sessions, err := store.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No saved sessions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSAVED\tREPOS\tUPDATED\tSKIPPED\tFAILED\tPENDING")
			fmt.Fprintln(w, "-------\t-----\t-----\t-------\t-------\t------\t-------")
			for _, session := range sessions {
				st, err := store.Load(session)
				if err != nil {
					fmt.Fprintf(w, "%s\t(unreadable: %v)\t\t\t\t\t\n", session, err)
					continue
				}
				counts := map[status.Status]int{}
				for _, rs := range st.Statuses {
					counts[rs.Status]++
				}
				pending := len(st.Order) - counts[status.Updated] - counts[status.Skipped] - counts[status.Failed]
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					session,
					st.SavedAt.Format("2006-01-02 15:04"),
					len(st.Order),
					counts[status.Updated],
					counts[status.Skipped],
					counts[status.Failed],
					pending,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to config file")

	return cmd
}
