package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	billyutil "github.com/go-git/go-billy/v5/util"
	"github.com/spf13/cobra"

	"github.com/agentic-research/realm/api"
	"github.com/agentic-research/realm/internal/bus"
	"github.com/agentic-research/realm/internal/config"
	"github.com/agentic-research/realm/internal/extract"
	"github.com/agentic-research/realm/internal/logging"
	"github.com/agentic-research/realm/internal/mutate"
	"github.com/agentic-research/realm/internal/registry"
	"github.com/agentic-research/realm/internal/server"
	"github.com/agentic-research/realm/internal/store"
	realmsync "github.com/agentic-research/realm/internal/sync"
	"github.com/agentic-research/realm/internal/watch"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// fsMutator binds the mutation engine to the project filesystem.
type fsMutator struct {
	fs     billy.Filesystem
	engine *mutate.Engine
}

func (m *fsMutator) Apply(filePath, selector string, ch mutate.Changes) error {
	return m.engine.ApplyToFile(m.fs, filePath, selector, ch)
}

// primeRegistry extracts every component file under the project root so
// clients can address elements before the first edit arrives.
func primeRegistry(projectFS billy.Filesystem, reg *registry.Registry) (int, error) {
	ex := extract.New(nil)
	err := billyutil.Walk(projectFS, ".", func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			name := filepath.Base(path)
			if name == "node_modules" || strings.HasPrefix(name, ".") && name != "." {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".tsx", ".jsx", ".ts", ".js":
		default:
			return nil
		}
		content, err := billyutil.ReadFile(projectFS, path)
		if err != nil {
			return nil
		}
		res, err := ex.Extract(content, path)
		if err != nil {
			return nil
		}
		reg.RegisterAll(path, registry.HashContent(content), res)
		return nil
	})
	return reg.Len(), err
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server against a project tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		projectFS := osfs.New(cfg.Project.Root)

		reg := registry.New()
		b := bus.New(cfg.Sync.HistorySize, log)

		var journal realmsync.Journal
		if cfg.Journal.Path != "" {
			j, err := store.Open(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()
			journal = j
		}

		mutator := &fsMutator{
			fs: projectFS,
			engine: mutate.NewEngine(mutate.MatchPolicy{
				MinForwardMatches: cfg.Match.MinForwardMatches,
				ForwardRatio:      cfg.Match.ForwardRatio,
				ReverseRatio:      cfg.Match.ReverseRatio,
			}),
		}

		engine := realmsync.New(b, reg, mutator, journal, projectFS, cfg.Sync, log)

		if n, err := primeRegistry(projectFS, reg); err != nil {
			return fmt.Errorf("initial scan: %w", err)
		} else {
			log.Info("scanned project", "elements", n)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go engine.Run(ctx)

		if cfg.Watch.Enabled {
			watcher := watch.New(projectFS, b, reg, cfg.Watch, log)
			go watcher.Run(ctx)
		}

		// External file notifications feed the engine for invalidation.
		// Only watcher-sourced events qualify: the engine announces its
		// own writes on the same kind and must not re-consume them.
		b.On(api.KindFileChanged, engine.Dispatch, bus.WithSource(api.SourceFileWatcher))

		srv := server.New(b, engine, reg, log)
		httpSrv := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: srv.Router(),
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("listening", "addr", cfg.Server.Addr, "project", cfg.Project.Root)
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	},
}
