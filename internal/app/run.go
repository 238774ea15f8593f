package app

import (
	"context"
	"fmt"

	"github.com/dshills/clangmux/internal/host"
	"github.com/dshills/clangmux/internal/project"
)

// Run starts the engine, prints the discovered projects, resolves the
// path arguments, and in watch mode streams membership changes until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.service.Initialize(ctx); err != nil {
		return fmt.Errorf("project service: %w", err)
	}
	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	if a.plugins != nil {
		if err := a.plugins.LoadAll(ctx); err != nil {
			a.logger.Warn("plugin load", "error", err)
		}
	}

	// Resolving the first workspace folder activates the configured
	// strategy; until then the service has no project list.
	folders := a.workspace.Folders()
	if len(folders) > 0 {
		if _, err := a.service.Resolve(ctx, folders[0].URI, false); err != nil {
			return fmt.Errorf("activate strategy: %w", err)
		}
	}

	a.printProjects()
	for _, path := range a.opts.Paths {
		a.resolvePath(ctx, path)
	}

	if !a.opts.Watch {
		return nil
	}
	return a.watch(ctx)
}

// printProjects lists the active strategy's projects.
func (a *App) printProjects() {
	projects := a.service.Projects()
	a.printf("%d project(s) via %s\n", len(projects), a.service.ActiveStrategyID())
	for _, p := range projects {
		a.printf("  %s\t%s\n", p.Name, p.RootPath)
	}
}

// resolvePath maps one path argument to its owning project.
func (a *App) resolvePath(ctx context.Context, path string) {
	proj, err := a.service.Resolve(ctx, host.PathToURI(path), false)
	if err != nil {
		a.printf("%s -> error: %v\n", path, err)
		return
	}
	if proj == nil {
		a.printf("%s -> (no project)\n", path)
		return
	}
	a.printf("%s -> %s\t%s\n", path, proj.Name, proj.RootPath)
}

// watch streams membership and current-project changes until ctx ends.
func (a *App) watch(ctx context.Context) error {
	projSub := a.service.OnProjectsChanged(func(c project.Change) {
		for _, p := range c.Added {
			a.printf("added\t%s\t%s\n", p.Name, p.RootPath)
		}
		for _, p := range c.Removed {
			a.printf("removed\t%s\t%s\n", p.Name, p.RootPath)
		}
	})
	defer projSub.Cancel()

	curSub := a.service.OnCurrentChanged(func(c project.CurrentChange) {
		if c.New == nil {
			a.printf("current\t(none)\n")
			return
		}
		a.printf("current\t%s\t%s\n", c.New.Name, c.New.RootPath)
	})
	defer curSub.Cancel()

	a.printf("watching %d folder(s), interrupt to stop\n", len(a.workspace.Folders()))
	<-ctx.Done()
	return nil
}
