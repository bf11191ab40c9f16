// Package project owns the appliance's configuration identity: which flake
// the system is built from, which disk it was installed to, and whether the
// configuration on disk has been applied.
package project

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/glacieros/glacierd/pkg/store"
)

// Project is the config collaborator consumed by the engines.
type Project struct {
	flakeRef   string
	configPath string
	store      *store.Store
	logger     zerolog.Logger
}

// New creates a project. configPath may be empty if nothing should be
// watched.
func New(flakeRef, configPath string, st *store.Store, logger zerolog.Logger) *Project {
	return &Project{
		flakeRef:   flakeRef,
		configPath: configPath,
		store:      st,
		logger:     logger.With().Str("component", "project").Logger(),
	}
}

// FlakeRef returns the flake the appliance is built from.
func (p *Project) FlakeRef() string {
	return p.flakeRef
}

// MarkChangesApplied records that the running system matches the current
// configuration. Called after a successful build.
func (p *Project) MarkChangesApplied(ctx context.Context) error {
	return p.store.SetChangesApplied(ctx, true)
}

// MarkChangesPending records that the configuration on disk has diverged
// from the running system.
func (p *Project) MarkChangesPending(ctx context.Context) error {
	return p.store.SetChangesApplied(ctx, false)
}

// SetInstallDisk records the disk chosen for installation.
func (p *Project) SetInstallDisk(ctx context.Context, path string) error {
	return p.store.SetInstallDisk(ctx, path)
}

// RecordBuild records the outcome of a build.
func (p *Project) RecordBuild(ctx context.Context, kind string, status int) error {
	return p.store.SetLastBuild(ctx, kind, status)
}

// WatchConfig watches the configuration path until ctx is cancelled. Every
// write or create touching it marks the appliance record as having pending
// changes and invokes onChange. The watch is placed on the parent directory
// so editors that replace the file atomically are still observed.
func (p *Project) WatchConfig(ctx context.Context, onChange func(path string)) error {
	if p.configPath == "" {
		return fmt.Errorf("no configuration path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.configPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	p.logger.Info().Str("path", p.configPath).Msg("watching configuration")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if event.Name != p.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.logger.Info().Str("path", event.Name).Msg("configuration changed on disk")
			if err := p.MarkChangesPending(ctx); err != nil {
				p.logger.Error().Err(err).Msg("mark changes pending")
			}
			onChange(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			p.logger.Warn().Err(err).Msg("watch error")
		}
	}
}
