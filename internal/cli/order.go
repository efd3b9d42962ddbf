package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cascade-tools/cascade/internal/cache"
	"github.com/cascade-tools/cascade/internal/git"
	"github.com/cascade-tools/cascade/internal/graph"
	"github.com/cascade-tools/cascade/internal/logging"
)

// OrderCmd returns the order command
func OrderCmd() *cobra.Command {
	var (
		configPath     string
		useCachedOrder bool
	)

	cmd := &cobra.Command{
		Use:   "order <root-url>...",
		Short: "Print the bottom-up update order without opening pull requests",
		Long: `Discover the submodule graph below the given roots and print the order
a propagation run would process it in, deepest dependencies first. Clones
land under <workspace>/order and are reused on the next invocation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			logger, err := logging.SetupLogger(cfg.LogFile, cfg.Log.Level, false)
			if err != nil {
				return fmt.Errorf("setup logger: %w", err)
			}
			defer logging.CloseFile()

			orderCache, err := cache.Open(filepath.Join(cfg.Workspace, "cascade.db"))
			if err != nil {
				return err
			}
			defer orderCache.Close()

			ctx := cmd.Context()

			if useCachedOrder {
				cached, err := orderCache.Get(ctx, args)
				if err != nil {
					logger.Warn("order cache unavailable", "error", err)
				}
				if cached != nil {
					fmt.Printf("Cached order, computed %s:\n\n", cached.CreatedAt.Format("2006-01-02 15:04"))
					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "#\tREPOSITORY\tURL")
					fmt.Fprintln(w, "-\t----------\t---")
					for i, name := range cached.Order {
						fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, name, cached.URLs[name])
					}
					return w.Flush()
				}
			}

			g := git.NewClient(cfg.Workspace, logger)
			builder := graph.NewBuilder(g, filepath.Join(cfg.Workspace, "order"), cfg.Ignore, logger)
			res, err := builder.Build(ctx, args)
			if err != nil {
				return err
			}
			if err := orderCache.Put(ctx, args, res.Order, res.URLs); err != nil {
				logger.Warn("could not cache order", "error", err)
			}

			maxDepth := 0
			for _, d := range res.Depths {
				if d > maxDepth {
					maxDepth = d
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tDEPTH\tREPOSITORY\tURL")
			fmt.Fprintln(w, "-\t-----\t----------\t---")
			for i, name := range res.Order {
				depth := res.Depths[name]
				// dependencies at the left margin, dependents shifted right
				indent := strings.Repeat("  ", maxDepth-depth)
				fmt.Fprintf(w, "%d\t%d\t%s%s\t%s\n", i+1, depth, indent, name, res.URLs[name])
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\n%d repositories, max depth %d\n", len(res.Order), maxDepth)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to config file")
	cmd.Flags().BoolVar(&useCachedOrder, "use-cached-order", false, "print the cached order if one exists")

	return cmd
}
