// Package app assembles the standalone engine: configuration, host
// surfaces, the project service with its built-in strategies, the
// session manager, and optional plugins.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dshills/clangmux/internal/config"
	"github.com/dshills/clangmux/internal/host"
	"github.com/dshills/clangmux/internal/lsp"
	"github.com/dshills/clangmux/internal/plugin"
	"github.com/dshills/clangmux/internal/project"
)

// App wires the engine components for the command line.
type App struct {
	opts   Options
	logger *slog.Logger

	store     *config.Store
	ui        *host.ConsoleUI
	commands  host.Commands
	workspace *host.FolderWorkspace
	docs      *host.DocumentSet
	service   *project.Service
	manager   *lsp.Manager
	plugins   *plugin.Manager // nil unless enabled in settings

	out     io.Writer
	printMu sync.Mutex

	shutdown sync.Once
}

// New assembles an application from options. Call Run to start it and
// Shutdown to tear it down.
func New(opts Options) (*App, error) {
	opts = opts.withDefaults()

	logger := slog.New(slog.NewTextHandler(opts.LogOutput, &slog.HandlerOptions{
		Level: parseLogLevel(opts.LogLevel),
	}))

	store := config.NewStore(config.WithLogger(logger))
	if opts.ConfigPath != "" {
		if err := store.Load(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	// The command line exists to exercise project routing, so routing is
	// always on. The strategy flag takes precedence over the file.
	settings := store.Snapshot()
	settings.MultiProject.Enabled = true
	if opts.Strategy != "" {
		settings.MultiProject.Strategy = opts.Strategy
	}
	store.Set(settings)

	workspace, err := host.NewFolderWorkspace(opts.Workspaces...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("workspace: %w", err)
	}

	a := &App{
		opts:      opts,
		logger:    logger,
		store:     store,
		ui:        host.NewConsoleUI(host.WithUILogger(logger), host.WithUIOutput(opts.LogOutput)),
		commands:  host.NewCommandRegistry(),
		workspace: workspace,
		docs:      host.NewDocumentSet(),
		out:       opts.Output,
	}
	a.service = project.NewService(a.store, a.ui, a.commands,
		project.WithServiceLogger(logger))

	folder := project.NewFolderStrategy(workspace, project.WithFolderLogger(logger))
	if err := a.service.RegisterStrategy(folder); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("register %s: %w", folder.ID(), err)
	}
	factory := host.NewGlobFactory(host.WithWatchLogger(logger))
	buildDir := project.NewBuildDirStrategy(workspace, factory,
		project.WithBuildDirLogger(logger))
	if err := a.service.RegisterStrategy(buildDir); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("register %s: %w", buildDir.ID(), err)
	}

	a.manager = lsp.NewManager(a.service, &lsp.ProcessFactory{Logger: logger},
		a.store, a.docs, a.ui, a.commands, lsp.WithManagerLogger(logger))

	if settings.Plugins.Enabled {
		pluginOpts := []plugin.ManagerOption{plugin.WithManagerLogger(logger)}
		if settings.Plugins.Dir != "" {
			pluginOpts = append(pluginOpts, plugin.WithManagerPaths(settings.Plugins.Dir))
		}
		a.plugins = plugin.NewManager(a.service, pluginOpts...)
	}

	return a, nil
}

// Shutdown tears everything down. Safe to call more than once and on a
// partially assembled app.
func (a *App) Shutdown() {
	a.shutdown.Do(func() {
		if a.plugins != nil {
			if err := a.plugins.Dispose(); err != nil {
				a.logger.Warn("plugin shutdown", "error", err)
			}
		}
		if a.manager != nil {
			if err := a.manager.Dispose(); err != nil {
				a.logger.Warn("session shutdown", "error", err)
			}
		}
		if a.service != nil {
			a.service.Dispose()
		}
		a.workspace.Close()
		a.docs.Close()
		a.store.Close()
	})
}

func (a *App) printf(format string, args ...any) {
	a.printMu.Lock()
	defer a.printMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}
