// Package cli holds the cobra command tree. Each command is a factory
// returning *cobra.Command; wiring of git, cache, platforms and the
// orchestrator happens here so the packages below stay import-light.
package cli

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cascade-tools/cascade/internal/cache"
	"github.com/cascade-tools/cascade/internal/config"
	"github.com/cascade-tools/cascade/internal/git"
	"github.com/cascade-tools/cascade/internal/graph"
	"github.com/cascade-tools/cascade/internal/platform"
	"github.com/cascade-tools/cascade/internal/propagate"
	"github.com/cascade-tools/cascade/internal/state"
	"github.com/cascade-tools/cascade/internal/update"
)

const defaultConfigPath = "cascade.yaml"

// loadConfig reads the config file. A missing file is only an error when
// the user pointed at it explicitly.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	return cfg, err
}

// runner bundles everything a propagation command needs.
type runner struct {
	cfg        *config.Config
	git        *git.Client
	store      *state.Store
	orderCache *cache.Store
	orc        *propagate.Orchestrator
}

func newRunner(cfg *config.Config, token string, logger *slog.Logger) (*runner, error) {
	g := git.NewClient(cfg.Workspace, logger)
	store := state.NewStore(g.SessionsDir(), logger)

	orderCache, err := cache.Open(filepath.Join(cfg.Workspace, "cascade.db"))
	if err != nil {
		return nil, err
	}

	orc := propagate.New(propagate.Deps{
		NewBuilder: func(workdir string) propagate.GraphBuilder {
			return graph.NewBuilder(g, workdir, cfg.Ignore, logger)
		},
		NewMaterializer: func(workdir string) propagate.Materializer {
			return update.NewMaterializer(g, workdir, logger)
		},
		Cache:   orderCache,
		Watcher: platform.NewWatcher(cfg.PollInterval, logger),
		Git:     g,
		Store:   store,
		Platforms: map[platform.Kind]platform.Platform{
			platform.KindGitHub: platform.NewGitHub(g, token, logger),
			platform.KindAzure:  platform.NewAzure(g, token, logger),
		},
		SessionsDir:  g.SessionsDir(),
		BranchPrefix: cfg.BranchPrefix,
		Logger:       logger,
	})

	return &runner{
		cfg:        cfg,
		git:        g,
		store:      store,
		orderCache: orderCache,
		orc:        orc,
	}, nil
}

func (r *runner) Close() {
	_ = r.orderCache.Close()
}
