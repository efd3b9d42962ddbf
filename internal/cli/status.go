package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cascade-tools/cascade/internal/git"
	"github.com/cascade-tools/cascade/internal/state"
	"github.com/cascade-tools/cascade/internal/status"
)

// StatusCmd returns the status command
func StatusCmd() *cobra.Command {
	var (
		configPath string
		session    string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the per-repository state of the latest session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			logger := slog.New(slog.DiscardHandler)
			store := state.NewStore(git.NewClient(cfg.Workspace, logger).SessionsDir(), logger)

			if session == "" {
				session, err = store.FindLatest()
				if errors.Is(err, state.ErrNoSessions) {
					fmt.Println("No saved sessions.")
					return nil
				}
				if err != nil {
					return err
				}
			}

			st, err := store.Load(session)
			if err != nil {
				return err
			}

			fmt.Printf("Session: %s\n", st.Session)
			fmt.Printf("Branch:  %s\n", st.Branch)
			fmt.Printf("Saved:   %s\n", st.SavedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Roots:   %s\n", strings.Join(st.Roots, ", "))
			fmt.Println()

			tracker := status.NewTracker(st.Order, logger)
			for name, rs := range st.Statuses {
				tracker.Restore(name, rs)
			}
			tracker.Report(os.Stdout, false)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&session, "session", "", "inspect a specific session instead of the latest")

	return cmd
}
