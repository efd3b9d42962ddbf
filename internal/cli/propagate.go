package cli

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cascade-tools/cascade/internal/logging"
	"github.com/cascade-tools/cascade/internal/propagate"
	"github.com/cascade-tools/cascade/internal/tui"
)

// PropagateCmd returns the propagate command
func PropagateCmd() *cobra.Command {
	var (
		configPath     string
		token          string
		workItem       int
		useCachedOrder bool
		leaveOpen      bool
		noTUI          bool
	)

	cmd := &cobra.Command{
		Use:   "propagate <root-url>...",
		Short: "Cascade submodule updates up from the deepest dependencies",
		Long: `Discover every repository reachable from the given roots through
.gitmodules, then walk them deepest-first: pin each repository's submodules
to the fixed commits, open a pull request, and wait for it to merge before
moving on to its dependents.

Interrupted runs keep their state; continue them with "cascade resume".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPropagation(cmd, propagationOpts{
				params: propagate.Params{
					Roots:           args,
					WorkItem:        workItem,
					UseCachedOrder:  useCachedOrder,
					LeaveFailedOpen: leaveOpen,
				},
				configPath:     configPath,
				configExplicit: cmd.Flags().Changed("config"),
				token:          token,
				noTUI:          noTUI,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&token, "token", "", "access token for the git platforms (falls back to CLI auth)")
	cmd.Flags().IntVar(&workItem, "work-item", 0, "work item to link Azure DevOps pull requests to")
	cmd.Flags().BoolVar(&useCachedOrder, "use-cached-order", false, "reuse the cached update order for these roots")
	cmd.Flags().BoolVar(&leaveOpen, "leave-open", false, "leave failed pull requests open instead of abandoning them")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "disable the live view")
	_ = cmd.MarkFlagRequired("work-item")

	return cmd
}

// ResumeCmd returns the resume command
func ResumeCmd() *cobra.Command {
	var (
		configPath string
		token      string
		leaveOpen  bool
		noTUI      bool
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue the latest interrupted propagation run",
		Long: `Load the most recent saved session and continue where it stopped.
Repositories that already updated or were skipped stay untouched; failed and
unreached ones run again, pinning the commits fixed by the original run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPropagation(cmd, propagationOpts{
				params: propagate.Params{
					Resume:          true,
					LeaveFailedOpen: leaveOpen,
				},
				configPath:     configPath,
				configExplicit: cmd.Flags().Changed("config"),
				token:          token,
				noTUI:          noTUI,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to config file")
	cmd.Flags().StringVar(&token, "token", "", "access token for the git platforms (falls back to CLI auth)")
	cmd.Flags().BoolVar(&leaveOpen, "leave-open", false, "leave failed pull requests open instead of abandoning them")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "disable the live view")

	return cmd
}

type propagationOpts struct {
	params         propagate.Params
	configPath     string
	configExplicit bool
	token          string
	noTUI          bool
}

func runPropagation(cmd *cobra.Command, opts propagationOpts) error {
	cfg, err := loadConfig(opts.configPath, opts.configExplicit)
	if err != nil {
		return err
	}

	// Auto-detect TUI capability
	enableTUI := !opts.noTUI && os.Getenv("CASCADE_TUI") != "0" &&
		isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())

	logger, err := logging.SetupLogger(cfg.LogFile, cfg.Log.Level, enableTUI)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logging.CloseFile()

	r, err := newRunner(cfg, opts.token, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	opts.params.PRTimeout = cfg.PRTimeout
	ctx := cmd.Context()

	var runErr error
	if enableTUI {
		m := tui.NewModel(r.orc, cfg.TUI.RefreshInterval)
		p := tea.NewProgram(m, tea.WithAltScreen())

		done := make(chan error, 1)
		go func() {
			err := r.orc.Run(ctx, opts.params)
			done <- err
			p.Send(tea.Quit())
		}()

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("run view: %w", err)
		}
		// quitting the view does not abort the run
		runErr = <-done
	} else {
		runErr = r.orc.Run(ctx, opts.params)
	}

	ok := r.orc.Report(os.Stdout)
	if runErr != nil {
		return runErr
	}
	if !ok {
		return errors.New("some repositories failed; \"cascade resume\" retries them")
	}
	return nil
}
