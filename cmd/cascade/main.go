package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cascade-tools/cascade/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cascade",
		Short: "Propagate submodule updates through dependent repositories",
		Long: `cascade walks a tree of git repositories connected by submodules,
updates each one bottom-up to pin its submodules to fixed commits, and
drives the resulting pull requests on GitHub or Azure DevOps until they
merge. Interrupted runs resume from their last checkpoint.`,
	}

	rootCmd.AddCommand(cli.PropagateCmd())
	rootCmd.AddCommand(cli.ResumeCmd())
	rootCmd.AddCommand(cli.OrderCmd())
	rootCmd.AddCommand(cli.SessionsCmd())
	rootCmd.AddCommand(cli.StatusCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
