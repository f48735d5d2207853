package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bwl/forest/internal/admin"
	"github.com/bwl/forest/internal/config"
	"github.com/bwl/forest/internal/document"
	"github.com/bwl/forest/internal/embed"
	"github.com/bwl/forest/internal/event"
	"github.com/bwl/forest/internal/link"
	"github.com/bwl/forest/internal/logging"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/score"
	"github.com/bwl/forest/internal/search"
	"github.com/bwl/forest/internal/store"
	"github.com/bwl/forest/internal/temporal"
	"github.com/bwl/forest/internal/topology"
	"github.com/bwl/forest/internal/ui"
)

// app is the wired application stack behind every store-touching
// command. Opened per invocation and closed when the command returns.
type app struct {
	cfg      *config.Config
	bus      *event.Bus
	store    *store.Store
	embedder embed.Embedder
	engine   *link.Engine
	pipeline *document.Pipeline
	searcher *search.Service
	topo     *topology.Service
	temporal *temporal.Service
	render   *ui.Renderer

	logCleanup func()
}

// openApp loads config, sets up logging, opens the store with the
// configured embedder, and wires the services on top.
func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  filepath.Join(cfg.Paths.DataDir, "logs", "forest.log"),
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
	if opts.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	embedder, err := embed.New(ctx, cfg.Embeddings)
	if err != nil {
		logCleanup()
		return nil, err
	}

	bus := event.NewBus()
	st, err := store.Open(ctx, store.Options{
		Dir:              cfg.Paths.DataDir,
		Dimensions:       embedder.Dimensions(),
		EmbeddingModel:   embedder.ModelName(),
		TokenizerVersion: normalize.TokenizerVersion,
		Sink:             bus,
	})
	if err != nil {
		_ = embedder.Close()
		logCleanup()
		return nil, err
	}

	engine := link.New(st, score.New(cfg.Scoring), embedder, cfg.Linking)
	searcher := search.New(st, embedder)

	return &app{
		cfg:        cfg,
		bus:        bus,
		store:      st,
		embedder:   embedder,
		engine:     engine,
		pipeline:   document.New(st, engine, embedder, cfg.Chunking),
		searcher:   searcher,
		topo:       topology.New(st, searcher, cfg.Scoring.BridgeTagPattern),
		temporal:   temporal.New(st, cfg.Snapshots),
		render:     ui.New(os.Stdout),
		logCleanup: logCleanup,
	}, nil
}

// close releases the store, the embedder, and the log file.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("store_close_failed", slog.String("error", err.Error()))
	}
	_ = a.embedder.Close()
	a.logCleanup()
}

// admin builds a batch runner over the wired stack.
func (a *app) admin() *admin.Runner {
	return admin.New(a.store, a.engine, a.pipeline, a.embedder, nil, a.cfg.Embeddings.MaxConcurrent)
}

// afterMutation runs the auto-snapshot policy after a write command.
// Policy failures are logged, never surfaced: the mutation itself
// already committed.
func (a *app) afterMutation(ctx context.Context) {
	snap, err := a.temporal.MaybeAutoSnapshot(ctx)
	if err != nil {
		slog.Warn("auto_snapshot_failed", slog.String("error", err.Error()))
		return
	}
	if snap != nil {
		slog.Info("auto_snapshot_taken", slog.String("snapshot_id", snap.ID))
	}
}

// withApp opens the stack, runs fn, and tears down.
func withApp(ctx context.Context, opts *rootOptions, fn func(a *app) error) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// loadConfig reads the config file, applying the persistent flags.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.dataDir != "" {
		cfg.Paths.DataDir = opts.dataDir
	}
	return cfg, nil
}
